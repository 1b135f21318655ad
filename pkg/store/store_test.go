package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tarekm28/ouajourad/pkg/logx"
	"github.com/tarekm28/ouajourad/pkg/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dsn, logx.NewLogger("error", "store_test"))
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open("", logx.NewLogger("error", "store_test")); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestUploadTripThenRawPayload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.UploadTrip(ctx, "u1", "t1", now, now, 3, []byte(`{"trip_id":"t1"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := s.RawPayload(ctx, "t1")
	if err != nil {
		t.Fatalf("unexpected error reading raw payload: %v", err)
	}
	if string(raw) != `{"trip_id":"t1"}` {
		t.Fatalf("unexpected raw payload: %s", raw)
	}

	count, err := s.TripCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error counting trips: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 trip, got %d", count)
	}
}

func TestUploadTripIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 2; i++ {
		if err := s.UploadTrip(ctx, "u1", "t1", now, now, 5, []byte(`{}`)); err != nil {
			t.Fatalf("unexpected error on upload %d: %v", i, err)
		}
	}

	count, err := s.TripCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected re-upload to upsert, not duplicate, got %d trips", count)
	}
}

func TestWriteTripResultsReplacesPriorDetections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.UploadTrip(ctx, "u1", "t1", now, now, 1, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := []model.Detection{{TripID: "t1", TS: now, Lat: 33.89, Lon: 35.50, Intensity: 5, MountState: model.MountMounted}}
	if err := s.WriteTripResults(ctx, "t1", first, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := []model.Detection{{TripID: "t1", TS: now.Add(time.Second), Lat: 33.90, Lon: 35.51, Intensity: 9, MountState: model.MountMounted}}
	if err := s.WriteTripResults(ctx, "t1", second, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	detections, err := s.DetectionsByIntensity(ctx, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("expected reprocessing to replace prior detections, got %d", len(detections))
	}
	if detections[0].Intensity != 9 {
		t.Fatalf("expected the newer detection to survive, got intensity %v", detections[0].Intensity)
	}
}

func TestDetectionsByIntensityZeroLimitIsUnlimited(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.UploadTrip(ctx, "u1", "t1", now, now, 1, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	detections := []model.Detection{
		{TripID: "t1", TS: now, Lat: 33.89, Lon: 35.50, Intensity: 5, MountState: model.MountMounted},
		{TripID: "t1", TS: now.Add(time.Second), Lat: 33.90, Lon: 35.51, Intensity: 9, MountState: model.MountMounted},
	}
	if err := s.WriteTripResults(ctx, "t1", detections, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.DetectionsByIntensity(ctx, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit<=0 to return every row, got %d", len(got))
	}
}

func TestDetectionsByIntensityFiltersBelowMinimum(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.UploadTrip(ctx, "u1", "t1", now, now, 1, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	detections := []model.Detection{
		{TripID: "t1", TS: now, Lat: 33.89, Lon: 35.50, Intensity: 2, MountState: model.MountMounted},
		{TripID: "t1", TS: now.Add(time.Second), Lat: 33.90, Lon: 35.51, Intensity: 9, MountState: model.MountMounted},
	}
	if err := s.WriteTripResults(ctx, "t1", detections, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.DetectionsByIntensity(ctx, 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Intensity != 9 {
		t.Fatalf("expected only the detection above the minimum, got %+v", got)
	}
}

func TestWriteTripResultsMergesSegmentsWithWeightedMean(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.UploadTrip(ctx, "u1", "t1", now, now, 1, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.UploadTrip(ctx, "u2", "t2", now, now, 1, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seg1 := model.RoughSegment{SegmentID: "seg1", Lat: 33.89, Lon: 35.50, Roughness: 2.0, RoughWindows: 10, Trips: 1, LastTS: now}
	if err := s.WriteTripResults(ctx, "t1", nil, []model.RoughSegment{seg1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seg2 := model.RoughSegment{SegmentID: "seg1", Lat: 33.89, Lon: 35.50, Roughness: 4.0, RoughWindows: 10, Trips: 1, LastTS: now.Add(time.Hour)}
	if err := s.WriteTripResults(ctx, "t2", nil, []model.RoughSegment{seg2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var roughness float64
	var windows, trips int
	err := s.db.QueryRowContext(ctx, `SELECT roughness, rough_windows, trips FROM road_quality_segments WHERE segment_id = ?`, "seg1").
		Scan(&roughness, &windows, &trips)
	if err != nil {
		t.Fatalf("unexpected error reading merged segment: %v", err)
	}
	if windows != 20 {
		t.Errorf("expected merged rough_windows of 20, got %d", windows)
	}
	if trips != 2 {
		t.Errorf("expected merged trips of 2, got %d", trips)
	}
	if roughness != 3.0 {
		t.Errorf("expected weighted-mean roughness of 3.0, got %v", roughness)
	}
}

func TestDetectionsWithCoordinatesExcludesSentinel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.UploadTrip(ctx, "u1", "t1", now, now, 1, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	detections := []model.Detection{
		{TripID: "t1", TS: now, Lat: model.NoCoord, Lon: model.NoCoord, Intensity: 5, MountState: model.MountMounted},
		{TripID: "t1", TS: now.Add(time.Second), Lat: 33.90, Lon: 35.51, Intensity: 9, MountState: model.MountMounted},
	}
	if err := s.WriteTripResults(ctx, "t1", detections, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.DetectionsWithCoordinates(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected sentinel-coordinate detection to be excluded, got %d", len(got))
	}
	if got[0].UserID != "u1" {
		t.Errorf("expected user_id to be resolved via the trips join, got %q", got[0].UserID)
	}
}
