package auditlog

import (
	"time"
)

// These functions are exported for testing purposes only

// SetS3Client sets the S3 client for testing
func (t *S3Trail) SetS3Client(client s3ClientInterface) {
	t.s3Client = client
}

// SetTimeNow sets the time function for testing
func (t *S3Trail) SetTimeNow(timeFunc func() time.Time) {
	t.timeNow = timeFunc
}

// SetBatchSize sets the flush threshold for testing
func (t *S3Trail) SetBatchSize(size int) {
	t.batchSize = size
}

// ObjectKey makes the objectKey method accessible for testing
func (t *S3Trail) ObjectKey() string {
	return t.objectKey()
}
