package dedup

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"dupeguard/imagedb"
	"dupeguard/imagedb/storage"
	"dupeguard/internal/monitoring"
)

// Registry is the per-chat index registry.
type Registry = imagedb.Registry[int64, ImageMetadata]

// Classification is the result of Check.
type Classification = imagedb.Classification[ImageMetadata]

// Recorder receives submission metrics.
type Recorder interface {
	ObserveSubmit(outcome string, d time.Duration)
	SetPartitions(n int)
	SetIndexedImages(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSubmit(string, time.Duration) {}
func (nopRecorder) SetPartitions(int)                   {}
func (nopRecorder) SetIndexedImages(int)                {}

// Service classifies chat images.
type Service struct {
	registry *Registry
	recorder Recorder
	verbose  bool
}

// NewService wraps registry. A nil recorder discards metrics.
func NewService(registry *Registry, recorder Recorder) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{registry: registry, recorder: recorder}
}

// SetVerbose enables per-image logging.
func (s *Service) SetVerbose(v bool) { s.verbose = v }

// Check classifies data for chatID. A new image is stored under meta.
func (s *Service) Check(ctx context.Context, chatID int64, data []byte, meta ImageMetadata) (Classification, error) {
	start := time.Now()
	c, err := s.registry.Submit(ctx, chatID, storage.NewImage(data, meta))
	outcome := Outcome(c, err)
	s.recorder.ObserveSubmit(outcome, time.Since(start))
	s.refreshGauges()

	if err != nil {
		return c, err
	}
	if s.verbose {
		log.Printf("[Dedup] chat=%d file=%s outcome=%s", chatID, meta.Name, outcome)
	}
	return c, nil
}

// Lookup classifies data for chatID without storing it.
func (s *Service) Lookup(ctx context.Context, chatID int64, data []byte) (imagedb.Match[ImageMetadata], error) {
	idx, err := s.registry.Resolve(ctx, chatID)
	if err != nil {
		return imagedb.Match[ImageMetadata]{}, err
	}
	return idx.Lookup(data)
}

// Load builds the index of chatID and returns its size.
func (s *Service) Load(ctx context.Context, chatID int64) (int, error) {
	idx, err := s.registry.Resolve(ctx, chatID)
	if err != nil {
		return 0, err
	}
	s.refreshGauges()
	return idx.Len(), nil
}

// Outcome maps a Submit result to a metrics label.
func Outcome(c Classification, err error) string {
	switch {
	case errors.Is(err, imagedb.ErrDecode):
		return monitoring.OutcomeDecodeError
	case errors.Is(err, imagedb.ErrStorage):
		return monitoring.OutcomeStorageError
	case err != nil:
		return monitoring.OutcomeError
	case c.IsDuplicate():
		return monitoring.OutcomeAlreadyExists
	default:
		return monitoring.OutcomeNew
	}
}

func (s *Service) refreshGauges() {
	total := 0
	sizes := s.registry.Sizes()
	for _, n := range sizes {
		total += n
	}
	s.recorder.SetPartitions(len(sizes))
	s.recorder.SetIndexedImages(total)
}

// PartitionStats describes one loaded chat.
type PartitionStats struct {
	ChatID int64 `json:"chat_id"`
	Images int   `json:"images"`
}

// Stats lists loaded chats in ascending chat id order.
func (s *Service) Stats() []PartitionStats {
	sizes := s.registry.Sizes()
	stats := make([]PartitionStats, 0, len(sizes))
	for id, n := range sizes {
		stats = append(stats, PartitionStats{ChatID: id, Images: n})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ChatID < stats[j].ChatID })
	return stats
}

// Health reports the number of loaded chats.
func (s *Service) Health() (int, error) {
	return s.registry.Len(), nil
}

// Close closes every loaded index.
func (s *Service) Close() error {
	return s.registry.Close()
}
