// SPDX-License-Identifier: Apache-2.0

package oplog

import "github.com/pterm/pterm"

// Logger is responsible for logging oplog ingestion and maintenance
// events. It never receives row payloads, only bucket names, op
// counts and ids.
type Logger interface {
	LogIngestStart(bucket string, opCount int)
	LogIngestComplete(bucket string, lastOp int64)
	LogClear(bucket string, opID int64)
	LogBucketDeleted(bucket, sentinel string)
	LogBucketsReaped(count int)
	LogRemoveOpsCleared(bucket string, count int)
	LogSyncLocal(applied bool, reason string)

	Info(msg string, args ...any)
}

type oplogLogger struct {
	logger pterm.Logger
}

type noopLogger struct{}

func NewLogger() Logger {
	return &oplogLogger{logger: pterm.DefaultLogger}
}

func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *oplogLogger) LogIngestStart(bucket string, opCount int) {
	l.logger.Info("ingesting bucket operations", l.logger.Args("bucket", bucket, "op_count", opCount))
}

func (l *oplogLogger) LogIngestComplete(bucket string, lastOp int64) {
	l.logger.Info("ingested bucket operations", l.logger.Args("bucket", bucket, "last_op", lastOp))
}

func (l *oplogLogger) LogClear(bucket string, opID int64) {
	l.logger.Info("clearing bucket", l.logger.Args("bucket", bucket, "op_id", opID))
}

func (l *oplogLogger) LogBucketDeleted(bucket, sentinel string) {
	l.logger.Info("bucket renamed for deletion", l.logger.Args("bucket", bucket, "sentinel", sentinel))
}

func (l *oplogLogger) LogBucketsReaped(count int) {
	l.logger.Info("reaped pending-delete buckets", l.logger.Args("count", count))
}

func (l *oplogLogger) LogRemoveOpsCleared(bucket string, count int) {
	l.logger.Info("cleared stale remove ops", l.logger.Args("bucket", bucket, "count", count))
}

func (l *oplogLogger) LogSyncLocal(applied bool, reason string) {
	l.logger.Info("sync_local evaluated", l.logger.Args("applied", applied, "reason", reason))
}

func (l *oplogLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.logger.Args(args...))
}

func (l *noopLogger) LogIngestStart(bucket string, opCount int)       {}
func (l *noopLogger) LogIngestComplete(bucket string, lastOp int64)   {}
func (l *noopLogger) LogClear(bucket string, opID int64)              {}
func (l *noopLogger) LogBucketDeleted(bucket, sentinel string)        {}
func (l *noopLogger) LogBucketsReaped(count int)                      {}
func (l *noopLogger) LogRemoveOpsCleared(bucket string, count int)    {}
func (l *noopLogger) LogSyncLocal(applied bool, reason string)        {}
func (l *noopLogger) Info(msg string, args ...any)                    {}
