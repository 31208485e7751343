package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"

	"resume-pipeline/internal/config"
)

type AthenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
}

type RepairResult struct {
	Ok        bool   `json:"ok"`
	QueryID   string `json:"query_id,omitempty"`
	State     string `json:"state,omitempty"`
	Database  string `json:"database,omitempty"`
	Table     string `json:"table,omitempty"`
	Workgroup string `json:"workgroup,omitempty"`
	Output    string `json:"output,omitempty"`
}

// Repairer runs MSCK REPAIR TABLE so Athena picks up partitions written
// outside Glue.
type Repairer struct {
	api      AthenaAPI
	cfg      config.Repair
	poll     time.Duration
	deadline time.Duration
	log      *slog.Logger
}

func NewRepairer(api AthenaAPI, cfg config.Repair, log *slog.Logger) *Repairer {
	if log == nil {
		log = slog.Default()
	}
	return &Repairer{api: api, cfg: cfg, poll: 2 * time.Second, deadline: 60 * time.Second, log: log}
}

func (r *Repairer) Repair(ctx context.Context) (RepairResult, error) {
	res := RepairResult{
		Database:  r.cfg.Database,
		Table:     r.cfg.Table,
		Workgroup: r.cfg.Workgroup,
		Output:    r.cfg.Output,
	}

	start, err := r.api.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(fmt.Sprintf("MSCK REPAIR TABLE %s;", r.cfg.Table)),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(r.cfg.Database),
		},
		WorkGroup: aws.String(r.cfg.Workgroup),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(r.cfg.Output),
		},
	})
	if err != nil {
		return res, fmt.Errorf("StartQueryExecution: %w", err)
	}
	res.QueryID = aws.ToString(start.QueryExecutionId)
	log := r.log.With("query_id", res.QueryID, "table", r.cfg.Table)
	log.Info("repair started")

	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		st, err := r.api.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(res.QueryID),
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				res.State = "TIMEOUT"
				return res, fmt.Errorf("repair timed out waiting for qid=%s", res.QueryID)
			}
			return res, fmt.Errorf("GetQueryExecution: %w", err)
		}

		var reason string
		if st.QueryExecution != nil && st.QueryExecution.Status != nil {
			res.State = string(st.QueryExecution.Status.State)
			reason = aws.ToString(st.QueryExecution.Status.StateChangeReason)
		}
		switch athenatypes.QueryExecutionState(res.State) {
		case athenatypes.QueryExecutionStateSucceeded:
			res.Ok = true
			log.Info("repair succeeded")
			return res, nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return res, fmt.Errorf("repair %s: %s", res.State, reason)
		}

		select {
		case <-ctx.Done():
			res.State = "TIMEOUT"
			return res, fmt.Errorf("repair timed out waiting for qid=%s", res.QueryID)
		case <-ticker.C:
		}
	}
}
