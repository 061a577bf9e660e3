package worker

import (
	"encoding/json"
	"errors"

	"docvec/apps/backend/internal/ingesterr"
)

// Message is one delivery from the ingestion queue.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
	ReceiveCount  int
	GroupID       string
}

// ObjectEvent names the stored object a message refers to.
type ObjectEvent struct {
	Bucket string
	Key    string
}

type s3Event struct {
	Records []s3Record `json:"Records"`
}

type s3Record struct {
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// ParseObjectEvent reads the first record of an S3 event notification body.
// The key is used as-is. defaultBucket fills in a missing bucket name.
func ParseObjectEvent(body, defaultBucket string) (ObjectEvent, error) {
	var ev s3Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return ObjectEvent{}, ingesterr.New(ingesterr.Malformed, "worker.ParseObjectEvent", err)
	}
	if len(ev.Records) == 0 || ev.Records[0].S3.Object.Key == "" {
		return ObjectEvent{}, ingesterr.New(ingesterr.Malformed, "worker.ParseObjectEvent", errors.New("missing Records[0].s3.object.key"))
	}

	rec := ev.Records[0].S3
	bucket := rec.Bucket.Name
	if bucket == "" {
		bucket = defaultBucket
	}
	if bucket == "" {
		return ObjectEvent{}, ingesterr.Malformedf("worker.ParseObjectEvent", "no bucket for key %q", rec.Object.Key)
	}
	return ObjectEvent{Bucket: bucket, Key: rec.Object.Key}, nil
}

// EventBody renders the notification body the consumer expects.
func EventBody(bucket, key string) (string, error) {
	var rec s3Record
	rec.S3.Bucket.Name = bucket
	rec.S3.Object.Key = key
	ev := s3Event{Records: []s3Record{rec}}

	b, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
