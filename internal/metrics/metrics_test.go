package metrics

import "testing"

func TestRecordExit_BucketsKnownReasons(t *testing.T) {
	m := New()
	m.RecordExit("STOP_LOSS")
	m.RecordExit("STOP_LOSS")
	m.RecordExit("TAKE_PROFIT")
	m.RecordExit("EMERGENCY_RUG_PULL_DETECTED")
	m.RecordExit("SOMETHING_UNEXPECTED")

	snap := m.Snapshot()
	if snap.ExitsByReason["STOP_LOSS"] != 2 {
		t.Errorf("STOP_LOSS = %d, want 2", snap.ExitsByReason["STOP_LOSS"])
	}
	if snap.ExitsByReason["TAKE_PROFIT"] != 1 {
		t.Errorf("TAKE_PROFIT = %d, want 1", snap.ExitsByReason["TAKE_PROFIT"])
	}
	if snap.ExitsByReason["EMERGENCY"] != 1 {
		t.Errorf("EMERGENCY = %d, want 1", snap.ExitsByReason["EMERGENCY"])
	}
	if snap.ExitsByReason["OTHER"] != 1 {
		t.Errorf("OTHER = %d, want 1", snap.ExitsByReason["OTHER"])
	}
}

func TestSnapshot_TracksGaugesAndCounters(t *testing.T) {
	m := New()
	m.RecordBuyMore()
	m.RecordTick()
	m.RecordTick()
	m.RecordBundleFailure()
	m.SetOpenPositions(7)

	snap := m.Snapshot()
	if snap.BuyMores != 1 {
		t.Errorf("BuyMores = %d, want 1", snap.BuyMores)
	}
	if snap.TicksRun != 2 {
		t.Errorf("TicksRun = %d, want 2", snap.TicksRun)
	}
	if snap.BundleFailures != 1 {
		t.Errorf("BundleFailures = %d, want 1", snap.BundleFailures)
	}
	if snap.OpenPositions != 7 {
		t.Errorf("OpenPositions = %d, want 7", snap.OpenPositions)
	}
}
