package external

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

// SQSClient exchanges notification messages over a single SQS queue.
type SQSClient struct {
	api      sqsiface.SQSAPI
	queueURL string
	waitTime int64
}

func NewSQSClient(region, queueName string, waitTimeInSeconds int) (*SQSClient, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	api := sqs.New(sess)
	resp, err := api.GetQueueUrl(&sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		return nil, err
	}
	return &SQSClient{
		api:      api,
		queueURL: aws.StringValue(resp.QueueUrl),
		waitTime: int64(waitTimeInSeconds),
	}, nil
}

func (c *SQSClient) SendMessage(ctx context.Context, body string) error {
	_, err := c.api.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(body),
	})
	return err
}

// ReceiveMessage returns the next queued message, or nil when the queue is
// empty. The message stays in flight until DeleteMessage is called.
func (c *SQSClient) ReceiveMessage(ctx context.Context) (*QueueMessage, error) {
	resp, err := c.api.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: aws.Int64(1),
		WaitTimeSeconds:     aws.Int64(c.waitTime),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	msg := resp.Messages[0]
	return &QueueMessage{
		Body:          aws.StringValue(msg.Body),
		ReceiptHandle: aws.StringValue(msg.ReceiptHandle),
	}, nil
}

func (c *SQSClient) DeleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := c.api.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}
