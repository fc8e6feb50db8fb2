package analyzer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corpusware/termstat/pkg/metrics"
	"github.com/corpusware/termstat/pkg/rpc"
)

// RPC method names served by the analyzer and dialed by the stats service.
const (
	MethodCorpusState = "Analyzer.CorpusState"
	MethodRecompute   = "Analyzer.Recompute"
	MethodListCorpora = "Analyzer.ListCorpora"
)

// CorpusParams names the corpus an RPC call targets.
type CorpusParams struct {
	Corpus string `json:"corpus"`
}

// CorpusStateResult carries the live state of one corpus. Found is false
// when the analyzer has no table for the corpus, letting callers
// distinguish "unknown corpus" from transport errors.
type CorpusStateResult struct {
	Found bool        `json:"found"`
	State CorpusState `json:"state"`
}

// RecomputeRPCResult carries the outcome of a forced recompute.
type RecomputeRPCResult struct {
	Found  bool            `json:"found"`
	Result RecomputeResult `json:"result"`
}

// ListCorporaResult lists the corpora with live tables.
type ListCorporaResult struct {
	Corpora []string `json:"corpora"`
}

// RegisterRPC wires the registry's live state into an RPC server and feeds
// request outcomes into rpc_requests_total.
func RegisterRPC(srv *rpc.Server, reg *Registry, m *metrics.Metrics) {
	srv.OnRequest = func(method string, err error) {
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	}

	srv.Register(MethodCorpusState, func(ctx context.Context, params json.RawMessage) (any, error) {
		corpus, err := decodeCorpus(params)
		if err != nil {
			return nil, err
		}
		e, ok := reg.Lookup(corpus)
		if !ok {
			return CorpusStateResult{}, nil
		}
		return CorpusStateResult{Found: true, State: e.State()}, nil
	})

	srv.Register(MethodRecompute, func(ctx context.Context, params json.RawMessage) (any, error) {
		corpus, err := decodeCorpus(params)
		if err != nil {
			return nil, err
		}
		e, ok := reg.Lookup(corpus)
		if !ok {
			return RecomputeRPCResult{}, nil
		}
		result, err := e.Recompute(ctx)
		if err != nil {
			return nil, err
		}
		return RecomputeRPCResult{Found: true, Result: result}, nil
	})

	srv.Register(MethodListCorpora, func(ctx context.Context, params json.RawMessage) (any, error) {
		return ListCorporaResult{Corpora: reg.Corpora()}, nil
	})
}

func decodeCorpus(params json.RawMessage) (string, error) {
	var p CorpusParams
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("decoding params: %w", err)
	}
	if p.Corpus == "" {
		return "", fmt.Errorf("corpus is required")
	}
	return p.Corpus, nil
}
