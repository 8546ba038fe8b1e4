package storage

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestPresignedGetURLAsksForAttachment(t *testing.T) {
	client, err := NewClient(Config{
		Endpoint: "localhost:9000",
		Access:   "minioadmin",
		Secret:   "minioadmin",
		Bucket:   "pixelstudio-jobs",
		Region:   "us-east-1",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	u, err := client.PresignedGetURL(context.Background(), "outputs/job-1/processed_image.png", time.Minute, "processed_image.png")
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(u, "pixelstudio-jobs/outputs/job-1/processed_image.png") {
		t.Fatalf("unexpected url %s", u)
	}
	if !strings.Contains(u, "response-content-disposition=attachment") {
		t.Fatalf("expected content disposition override in %s", u)
	}
}
