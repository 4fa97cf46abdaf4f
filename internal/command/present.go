package command

import (
	"fmt"
	"io"
)

type PresentOptions struct {
	// Mode overrides the command's output mode when set.
	Mode OutputMode
	// Target overrides the file output path when set.
	Target    string
	InputFile string
	Force     bool
	Out       io.Writer
}

type Presentation struct {
	Mode  OutputMode   `json:"mode"`
	Write *WriteResult `json:"write,omitempty"`
}

// Present delivers an outcome inline, as a rendered panel or as a file.
func Present(o *Outcome, opts PresentOptions) (*Presentation, error) {
	mode := o.Command.Output
	if opts.Mode != "" {
		mode = opts.Mode
	}
	p := &Presentation{Mode: mode}
	switch mode {
	case OutputInline:
		_, err := fmt.Fprintln(opts.Out, o.Text)
		return p, err
	case OutputPanel:
		return p, RenderPanel(opts.Out, o.Command.Title, o.Text)
	case OutputFile:
		target := opts.Target
		if target == "" {
			target = TargetPath(o.Command, opts.InputFile)
		}
		res, err := WriteFile(target, FileContent(o.Command, o.Text), opts.Force)
		if err != nil {
			return nil, err
		}
		p.Write = res
		return p, nil
	}
	return nil, fmt.Errorf("unknown output mode %q", mode)
}
