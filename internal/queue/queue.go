package queue

import (
	"fmt"
	"time"

	"github.com/bitleak/lmstfy/client"
)

// Job is one consumed queue message. The ID is needed to Ack.
type Job struct {
	ID    string
	Queue string
	Data  []byte
}

// Client wraps the lmstfy HTTP client behind the small surface the job
// service and worker pool use.
type Client struct {
	cli       *client.LmstfyClient
	namespace string
}

func NewClient(host string, port int, namespace, token string) (*Client, error) {
	if host == "" || namespace == "" {
		return nil, fmt.Errorf("lmstfy host and namespace are required")
	}
	return &Client{
		cli:       client.NewLmstfyClient(host, port, namespace, token),
		namespace: namespace,
	}, nil
}

// Publish enqueues a payload. delay defers visibility, tries bounds redelivery.
func (c *Client) Publish(queue string, data []byte, ttl time.Duration, tries uint16, delay time.Duration) (string, error) {
	jobID, err := c.cli.Publish(queue, data, uint32(ttl.Seconds()), tries, uint32(delay.Seconds()))
	if err != nil {
		return "", fmt.Errorf("lmstfy publish failed: %w", err)
	}
	return jobID, nil
}

// Consume long-polls the queue. A nil job with nil error means the poll timed
// out with nothing to do.
func (c *Client) Consume(queue string, ttr, timeout time.Duration) (*Job, error) {
	job, err := c.cli.Consume(queue, uint32(ttr.Seconds()), uint32(timeout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("lmstfy consume failed: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	return &Job{ID: job.ID, Queue: job.Queue, Data: job.Data}, nil
}

// Ack marks a consumed job done so it is not redelivered after TTR.
func (c *Client) Ack(queue, jobID string) error {
	if err := c.cli.Ack(queue, jobID); err != nil {
		return fmt.Errorf("lmstfy ack failed: %w", err)
	}
	return nil
}
