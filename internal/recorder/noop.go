package recorder

import "MarketScanner/internal/model"

// NoopRecorder is a no-op implementation used when history is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordScan(_ *model.ScanResult) (int64, error) { return 0, nil }
func (n *NoopRecorder) RecordDelivery(_ int64, _ Delivery) error     { return nil }
func (n *NoopRecorder) Close() error                                 { return nil }
