// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/smtp-relay/internal/email"
	"github.com/shineum/smtp-relay/internal/provider"
)

// base64LineLength is the RFC 2045 line limit for base64 bodies.
const base64LineLength = 76

// Config holds the configuration for creating a Provider.
type Config struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ConfigurationSet string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends emails via the AWS SES v2 API.
type Provider struct {
	client           SendEmailAPI
	configurationSet string
}

// New creates a Provider. The SDK retryer is disabled so each Send makes exactly
// one API call.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet), nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(client SendEmailAPI, configurationSet string) *Provider {
	return &Provider{
		client:           client,
		configurationSet: configurationSet,
	}
}

// Send delivers the request via AWS SES v2. Requests with attachments are sent as a
// raw MIME message; all others use the simple content format.
func (p *Provider) Send(ctx context.Context, req *email.SendRequest) (*provider.Receipt, error) {
	var input *sesv2.SendEmailInput

	if len(req.Attachments) > 0 {
		raw, err := buildRawMessage(req)
		if err != nil {
			return nil, fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(req.From.String()),
			Destination:      buildDestination(req),
			Content: &types.EmailContent{
				Raw: &types.RawMessage{
					Data: raw,
				},
			},
		}
	} else {
		input = buildSimpleInput(req)
	}

	if req.ReplyTo != nil {
		input.ReplyToAddresses = []string{req.ReplyTo.String()}
	}
	if p.configurationSet != "" {
		input.ConfigurationSetName = aws.String(p.configurationSet)
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return nil, toAPIError(err)
	}

	return &provider.Receipt{ID: aws.ToString(out.MessageId), Raw: out}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

// toAPIError extracts the service error code and message when SES reported one.
func toAPIError(err error) error {
	apiErr := &provider.APIError{Provider: "ses", Payload: err.Error(), Err: err}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		apiErr.Payload = fmt.Sprintf("%s: %s", ae.ErrorCode(), ae.ErrorMessage())
	}
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		apiErr.StatusCode = re.HTTPStatusCode()
	}
	return apiErr
}

func buildDestination(req *email.SendRequest) *types.Destination {
	return &types.Destination{
		ToAddresses:  email.Formatted(req.To),
		CcAddresses:  email.Formatted(req.Cc),
		BccAddresses: email.Formatted(req.Bcc),
	}
}

// buildSimpleInput creates a SES SendEmailInput for requests without attachments.
func buildSimpleInput(req *email.SendRequest) *sesv2.SendEmailInput {
	body := &types.Body{}

	if req.HTML != "" {
		body.Html = &types.Content{
			Data:    aws.String(req.HTML),
			Charset: aws.String("UTF-8"),
		}
	}
	if req.Text != "" {
		body.Text = &types.Content{
			Data:    aws.String(req.Text),
			Charset: aws.String("UTF-8"),
		}
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(req.From.String()),
		Destination:      buildDestination(req),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(req.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
}

// buildRawMessage constructs a multipart/mixed MIME message for requests with
// attachments. Bcc is carried only by the envelope destination.
func buildRawMessage(req *email.SendRequest) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", req.From)
	if len(req.To) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(email.Formatted(req.To), ", "))
	}
	if len(req.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(email.Formatted(req.Cc), ", "))
	}
	if req.ReplyTo != nil {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", req.ReplyTo)
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", req.Subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	if err := writeBody(writer, req); err != nil {
		return nil, err
	}

	for _, att := range req.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", contentType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			mime.FormatMediaType(att.Disposition, map[string]string{"filename": att.Filename}))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write([]byte(wrapBase64(att.Content))); err != nil {
			return nil, fmt.Errorf("failed to write attachment part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

// writeBody writes the text and/or HTML body. When both are present they are nested
// in a multipart/alternative part, plain text first.
func writeBody(writer *multipart.Writer, req *email.SendRequest) error {
	switch {
	case req.Text != "" && req.HTML != "":
		var alt bytes.Buffer
		altWriter := multipart.NewWriter(&alt)

		if err := writeTextPart(altWriter, "text/plain", req.Text); err != nil {
			return err
		}
		if err := writeTextPart(altWriter, "text/html", req.HTML); err != nil {
			return err
		}
		if err := altWriter.Close(); err != nil {
			return fmt.Errorf("failed to close alternative part: %w", err)
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", altWriter.Boundary()))
		part, err := writer.CreatePart(header)
		if err != nil {
			return fmt.Errorf("failed to create body part: %w", err)
		}
		_, err = part.Write(alt.Bytes())
		return err
	case req.HTML != "":
		return writeTextPart(writer, "text/html", req.HTML)
	case req.Text != "":
		return writeTextPart(writer, "text/plain", req.Text)
	}
	return nil
}

func writeTextPart(writer *multipart.Writer, mediaType, content string) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", mediaType+"; charset=UTF-8")
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", mediaType, err)
	}
	_, err = part.Write([]byte(content))
	return err
}

// wrapBase64 breaks an encoded payload into RFC 2045 lines.
func wrapBase64(encoded string) string {
	var lines []string
	for i := 0; i < len(encoded); i += base64LineLength {
		end := min(i+base64LineLength, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
