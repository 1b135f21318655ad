package gravity

import (
	"math"
	"testing"
	"time"

	"github.com/tarekm28/ouajourad/pkg/model"
)

func sampleAt(ts time.Time, z float64) model.Sample {
	return model.Sample{TS: ts, Accel: model.Vec3{Z: z}}
}

func TestEstimateEmpty(t *testing.T) {
	samples := []model.Sample{}
	Estimate(samples) // must not panic
}

func TestEstimateFirstSampleGravityEqualsAccel(t *testing.T) {
	base := time.Now()
	samples := []model.Sample{sampleAt(base, 9.8)}
	Estimate(samples)

	if samples[0].Gravity.Z != 9.8 {
		t.Errorf("expected first sample's gravity to equal its own accel, got %v", samples[0].Gravity.Z)
	}
	if samples[0].LinAccelMag != 0 {
		t.Errorf("expected zero residual on first sample, got %v", samples[0].LinAccelMag)
	}
}

func TestEstimateConvergesToSteadyGravity(t *testing.T) {
	base := time.Now()
	var samples []model.Sample
	for i := 0; i < 200; i++ {
		samples = append(samples, sampleAt(base.Add(time.Duration(i)*20*time.Millisecond), 9.8))
	}
	Estimate(samples)

	last := samples[len(samples)-1]
	if math.Abs(last.Gravity.Z-9.8) > 0.01 {
		t.Errorf("expected gravity to converge near 9.8, got %v", last.Gravity.Z)
	}
	if math.Abs(last.LinAccelMag) > 0.01 {
		t.Errorf("expected near-zero residual once converged, got %v", last.LinAccelMag)
	}
}

func TestEstimateSpikeProducesResidual(t *testing.T) {
	base := time.Now()
	var samples []model.Sample
	for i := 0; i < 50; i++ {
		samples = append(samples, sampleAt(base.Add(time.Duration(i)*20*time.Millisecond), 9.8))
	}
	samples = append(samples, sampleAt(base.Add(50*20*time.Millisecond), 30))
	Estimate(samples)

	spike := samples[len(samples)-1]
	if spike.LinAccelMag < 10 {
		t.Errorf("expected large residual on spike sample, got %v", spike.LinAccelMag)
	}
}

func TestEstimateNaNAccelInheritsPreviousGravity(t *testing.T) {
	base := time.Now()
	samples := []model.Sample{
		sampleAt(base, 9.8),
		sampleAt(base.Add(20*time.Millisecond), 9.8),
		{TS: base.Add(40 * time.Millisecond), Accel: model.Vec3{Z: math.NaN()}},
	}
	Estimate(samples)

	if samples[2].Gravity != samples[1].Gravity {
		t.Errorf("expected NaN-accel sample to inherit previous gravity, got %+v vs %+v", samples[2].Gravity, samples[1].Gravity)
	}
}
