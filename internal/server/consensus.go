package server

import (
	"context"

	"connectrpc.com/connect"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/consensus"
	"github.com/kazz187/triguild/pkg/cerr"
)

func consensusCall[Req, Res any](s *Server, fn func(ctx context.Context, st *consensus.Store, req *Req) (*Res, error)) func(context.Context, *Req) (*Res, error) {
	return func(ctx context.Context, req *Req) (*Res, error) {
		if s.deps.Consensus == nil {
			return nil, errUnavailable("consensus")
		}
		return fn(ctx, s.deps.Consensus, req)
	}
}

func (s *Server) consensusRoutes(opts []connect.HandlerOption) []route {
	return []route{
		unary(api.VerifyProcedure, func(ctx context.Context, req *api.VerifyRequest) (*api.VerifyResponse, error) {
			if s.deps.Verifier == nil {
				return nil, errUnavailable("consensus")
			}
			out, err := s.deps.Verifier.Verify(ctx, &consensus.VerifyRequest{
				TaskID:      req.TaskID,
				Description: req.Description,
				Implementer: req.Implementer,
				Scope:       req.Scope,
				Request:     req.Request,
			})
			if err != nil {
				return nil, err
			}
			return &api.VerifyResponse{Outcome: out}, nil
		}, opts),
		unary(api.GetConsensusProcedure, consensusCall(s, func(ctx context.Context, st *consensus.Store, req *api.IDRequest) (*api.ConsensusResponse, error) {
			sess, err := st.Get(ctx, req.ID)
			if err != nil {
				return nil, err
			}
			ballots, err := st.Ballots(ctx, sess.ID)
			if err != nil {
				return nil, err
			}
			return &api.ConsensusResponse{Session: sess, Ballots: ballots}, nil
		}), opts),
		unary(api.ListConsensusProcedure, consensusCall(s, func(ctx context.Context, st *consensus.Store, req *api.ListConsensusRequest) (*api.ListConsensusResponse, error) {
			sessions, err := st.List(ctx, req.TaskID, req.Limit)
			if err != nil {
				return nil, err
			}
			return &api.ListConsensusResponse{Sessions: sessions}, nil
		}), opts),
		unary(api.RecordVoteProcedure, consensusCall(s, func(ctx context.Context, st *consensus.Store, req *api.RecordVoteRequest) (*api.RecordVoteResponse, error) {
			if req.Ballot == nil {
				return nil, cerr.Errorf(cerr.InvalidArgument, "ballot is required").WithViolation("ballot", "must be set")
			}
			if err := st.RecordVote(ctx, req.Ballot); err != nil {
				return nil, err
			}
			if !req.Evaluate {
				return &api.RecordVoteResponse{}, nil
			}
			result, err := st.Evaluate(ctx, req.Ballot.SessionID)
			if err != nil {
				return nil, err
			}
			return &api.RecordVoteResponse{Result: result}, nil
		}), opts),
		unary(api.ConsensusMetricsProcedure, consensusCall(s, func(ctx context.Context, st *consensus.Store, req *api.ConsensusMetricsRequest) (*api.ConsensusMetricsResponse, error) {
			m, err := st.Metrics(ctx, req.Days)
			if err != nil {
				return nil, err
			}
			return &api.ConsensusMetricsResponse{Metrics: m}, nil
		}), opts),
		unary(api.ConsensusReportProcedure, consensusCall(s, func(ctx context.Context, st *consensus.Store, req *api.ConsensusReportRequest) (*api.ConsensusReportResponse, error) {
			f, err := consensus.ParseFormat(string(req.Format))
			if err != nil {
				return nil, cerr.NewError(cerr.InvalidArgument, err.Error(), nil).WithViolation("format", err.Error())
			}
			r, err := st.Report(ctx, req.ID)
			if err != nil {
				return nil, err
			}
			text, err := r.Render(f)
			if err != nil {
				return nil, err
			}
			return &api.ConsensusReportResponse{Report: text}, nil
		}), opts),
	}
}
