package external

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
)

// SESClient sends notification emails from a fixed sender address.
type SESClient struct {
	api         sesiface.SESAPI
	fromAddress string
}

func NewSESClient(region, fromAddress string) (*SESClient, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	return &SESClient{
		api:         ses.New(sess),
		fromAddress: fromAddress,
	}, nil
}

func (c *SESClient) SendEmail(ctx context.Context, toAddress, subject, htmlBody string) error {
	_, err := c.api.SendEmailWithContext(ctx, &ses.SendEmailInput{
		Source: aws.String(c.fromAddress),
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(toAddress)},
		},
		Message: &ses.Message{
			Subject: &ses.Content{
				Data: aws.String(subject),
			},
			Body: &ses.Body{
				Html: &ses.Content{
					Data: aws.String(htmlBody),
				},
			},
		},
	})
	return err
}
