// Package queue provides the SQS-facing pieces of the send worker: the job
// body codec and the delayed requeue publisher used for backoff and
// throttle deferral.
package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"

	"courier/internal/types"
)

// compressedBodyPrefix marks a message body whose JSON payload is
// zstd-compressed and base64-encoded. Plain JSON bodies have no prefix, so
// producers that never compress interoperate with decoders that sniff it.
const compressedBodyPrefix = "zstd:"

// compressThresholdBytes is the serialized size above which a job body is
// compressed before publishing. SQS caps message bodies at 256 KiB; jobs
// with large recipient data payloads would otherwise be rejected.
const compressThresholdBytes = 128 * 1024

// EncodeAll/DecodeAll on shared instances are safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// EncodeJob serializes a SendJob for publishing. Bodies above the
// compression threshold get the zstd envelope.
func EncodeJob(job types.SendJob) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("queue: failed to marshal SendJob: %w", err)
	}
	if len(data) <= compressThresholdBytes {
		return string(data), nil
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	return compressedBodyPrefix + base64.StdEncoding.EncodeToString(compressed), nil
}

// DecodeJob parses a queue message body into a SendJob, transparently
// handling both plain and compressed envelopes.
func DecodeJob(body string) (types.SendJob, error) {
	var job types.SendJob

	data := []byte(body)
	if strings.HasPrefix(body, compressedBodyPrefix) {
		compressed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(body, compressedBodyPrefix))
		if err != nil {
			return job, fmt.Errorf("queue: invalid base64 in compressed body: %w", err)
		}
		data, err = zstdDecoder.DecodeAll(compressed, nil)
		if err != nil {
			return job, fmt.Errorf("queue: failed to decompress body: %w", err)
		}
	}

	if err := json.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("queue: failed to unmarshal SendJob: %w", err)
	}
	if job.NotificationID == "" || job.RecipientID == "" {
		return job, fmt.Errorf("queue: SendJob missing notification_id or recipient_id")
	}
	return job, nil
}
