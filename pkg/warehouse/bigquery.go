package warehouse

import (
	"context"
	"database/sql"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/option"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
)

// BigQueryExecer runs statements as BigQuery query jobs. Unqualified table
// names resolve against the configured dataset.
type BigQueryExecer struct {
	client  *bigquery.Client
	dataset string
}

// NewBigQueryExecer creates a client for project, using credentialsFile
// when set and application default credentials otherwise
func NewBigQueryExecer(ctx context.Context, project, dataset, credentialsFile string) (*BigQueryExecer, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create BigQuery client")
	}
	return &BigQueryExecer{client: client, dataset: dataset}, nil
}

// ExecContext runs query and waits for the job. Positional args bind to ?
// placeholders.
func (b *BigQueryExecer) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	q := b.client.Query(query)
	q.DefaultProjectID = b.client.Project()
	q.DefaultDatasetID = b.dataset
	for _, a := range args {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Value: a})
	}

	job, err := q.Run(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeLoad, "failed to start BigQuery job")
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeLoad, "failed waiting for BigQuery job")
	}
	if err := status.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeLoad, "BigQuery job failed").
			WithDetail("job_id", job.ID())
	}

	var affected int64
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			affected = qs.NumDMLAffectedRows
		}
	}
	return bqResult(affected), nil
}

// Close closes the client
func (b *BigQueryExecer) Close() error {
	return b.client.Close()
}

type bqResult int64

func (r bqResult) LastInsertId() (int64, error) {
	return 0, errors.New(errors.ErrorTypeInternal, "BigQuery has no insert ids")
}

func (r bqResult) RowsAffected() (int64, error) {
	return int64(r), nil
}
