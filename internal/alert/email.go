// Package alert sends failure-diagnosis notification emails via AWS SES.
package alert

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/db"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/metrics"
)

// Mailer emails project owners when a failure record reaches a terminal
// status. Alerts are best effort: a send failure is logged and never
// surfaces to the ingestion pipeline.
type Mailer struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

// Config holds SES settings for failure alerts.
type Config struct {
	Region    string
	FromEmail string
}

// NewMailer creates a new SES-backed alert mailer.
func NewMailer(ctx context.Context, cfg Config, logger *zap.Logger) (*Mailer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	return &Mailer{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// FailureDiagnosed emails the project's alert address, if one is
// configured, summarizing the diagnosis outcome.
func (m *Mailer) FailureDiagnosed(ctx context.Context, project *db.Project, event *db.FailureEvent) {
	if project.AlertEmail == nil || *project.AlertEmail == "" {
		return
	}

	subject := fmt.Sprintf("[%s] Function %s failed (%s)", project.ProjectName, event.FunctionID, event.Status)

	confidence := "n/a"
	if event.FixConfidence != nil {
		confidence = *event.FixConfidence
	}

	body := fmt.Sprintf(
		"Function %s failed on run %s.\n\nError: %s\n\nDiagnosis status: %s\nFix confidence: %s\nFailure record: %s\n",
		event.FunctionID,
		event.RunID,
		event.ErrorMessage,
		event.Status,
		confidence,
		event.ID,
	)

	input := &ses.SendEmailInput{
		Source: aws.String(m.from),
		Destination: &types.Destination{
			ToAddresses: []string{*project.AlertEmail},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		metrics.RecordAlertEmail(false)
		m.logger.Warn("failed to send failure alert email",
			zap.Error(err),
			zap.String("failure_id", event.ID.String()),
			zap.String("to", *project.AlertEmail),
		)
		return
	}

	metrics.RecordAlertEmail(true)
	m.logger.Info("failure alert email sent",
		zap.String("failure_id", event.ID.String()),
		zap.String("to", *project.AlertEmail),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
}
