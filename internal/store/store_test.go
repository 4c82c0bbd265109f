package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + read receipts)", result.Version)
	}
}

// TestMigrateSchemaHasRequiredColumns verifies the migrations create every
// column the sync layer writes.
func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"kv put", "INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)", []any{"k", "{}", 1}},
		{"queue outbox", "INSERT INTO outbox (client_msg_id, room_id, body, status, attempts) VALUES (?, ?, ?, ?, ?)", []any{"cid", "r1", "text", "queued", 0}},
		{"queue receipt", "INSERT INTO read_receipts (kind, event_ids, attempts) VALUES (?, ?, ?)", []any{"single", "[\"e1\"]", 0}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestKVRoundTrip(t *testing.T) {
	db := testDB(t)

	type prefs struct {
		ChatMessages bool     `json:"chatMessages"`
		Muted        []string `json:"muted"`
	}

	var got prefs
	ok, err := db.GetJSON("notificationPreferences", &got)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("GetJSON on empty store reported found")
	}

	if err := db.PutJSON("notificationPreferences", prefs{ChatMessages: true, Muted: []string{"r1"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.PutJSON("notificationPreferences", prefs{ChatMessages: false, Muted: []string{"r2"}}); err != nil {
		t.Fatal(err)
	}

	ok, err = db.GetJSON("notificationPreferences", &got)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("GetJSON reported missing after PutJSON")
	}
	if got.ChatMessages || len(got.Muted) != 1 || got.Muted[0] != "r2" {
		t.Errorf("got %+v, want overwritten value", got)
	}

	if err := db.DeleteKey("notificationPreferences"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := db.GetJSON("notificationPreferences", &got); ok {
		t.Error("key still present after DeleteKey")
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", "room-a", "test msg"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	if pending[0].ClientMsgID != "client1" || pending[0].RoomID != "room-a" {
		t.Errorf("entry = %+v, want client1 in room-a", pending[0])
	}

	if ok, err := db.MarkOutboxSending("client1"); err != nil || !ok {
		t.Fatalf("MarkOutboxSending = %v, %v; want claimed", ok, err)
	}
	if err := db.MarkOutboxFailed("client1", "ack timeout"); err != nil {
		t.Fatal(err)
	}
	failed, err := db.FailedOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "ack timeout" {
		t.Fatalf("failed = %+v, want one entry with ack timeout", failed)
	}

	if ok, err := db.MarkOutboxSending("client1"); err != nil || !ok {
		t.Fatalf("MarkOutboxSending = %v, %v; want claimed", ok, err)
	}
	if err := db.MarkOutboxSent("client1", "srv-1"); err != nil {
		t.Fatal(err)
	}
	e, err := db.GetOutbox("client1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != OutboxSent || e.ServerMsgID != "srv-1" || e.Attempts != 2 {
		t.Errorf("entry = %+v, want sent/srv-1 after 2 attempts", e)
	}
	if e.ErrorMessage != "" {
		t.Errorf("error_message = %q, want cleared", e.ErrorMessage)
	}

	missing, err := db.GetOutbox("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("GetOutbox(nope) = %+v, want nil", missing)
	}
}

func TestMarkOutboxSendingClaimsOnce(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox("c1", "room-a", "hi"); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		name  string
		setup func() error
		want  bool
	}{
		{"queued", func() error { return nil }, true},
		{"already sending", func() error { return nil }, false},
		{"failed", func() error { return db.MarkOutboxFailed("c1", "timeout") }, true},
		{"sent", func() error { return db.MarkOutboxSent("c1", "srv-1") }, false},
	}
	for _, st := range steps {
		if err := st.setup(); err != nil {
			t.Fatalf("%s: %v", st.name, err)
		}
		got, err := db.MarkOutboxSending("c1")
		if err != nil {
			t.Fatalf("%s: %v", st.name, err)
		}
		if got != st.want {
			t.Errorf("%s: claimed = %v, want %v", st.name, got, st.want)
		}
	}

	e, err := db.GetOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", e.Attempts)
	}
	if ok, err := db.MarkOutboxSending("nope"); err != nil || ok {
		t.Errorf("MarkOutboxSending(nope) = %v, %v; want false, nil", ok, err)
	}
}

func TestOutboxDuplicateClientID(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("dup", "room-a", "one"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("dup", "room-a", "two"); err == nil {
		t.Error("QueueOutbox with a reused client id should fail")
	}
}

func TestReceiptQueue(t *testing.T) {
	db := testDB(t)

	id1, err := db.QueueReceipt(ReceiptSingle, []string{"e1"}, "timeout")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.QueueReceipt(ReceiptAll, []string{"e2", "e3"}, "not connected"); err != nil {
		t.Fatal(err)
	}

	n, err := db.ReceiptCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("ReceiptCount() = %d, want 2", n)
	}

	if err := db.ReceiptFailed(id1, "still failing"); err != nil {
		t.Fatal(err)
	}
	rs, err := db.PendingReceipts()
	if err != nil {
		t.Fatal(err)
	}
	if rs[0].ID != id1 || rs[0].Attempts != 1 || rs[0].LastError != "still failing" {
		t.Errorf("first receipt = %+v", rs[0])
	}
	if rs[1].Kind != ReceiptAll || len(rs[1].EventIDs) != 2 {
		t.Errorf("second receipt = %+v, want batch of 2", rs[1])
	}

	if err := db.DeleteReceipt(id1); err != nil {
		t.Fatal(err)
	}
	if err := db.ClearReceipts(); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.ReceiptCount(); n != 0 {
		t.Errorf("ReceiptCount() after clear = %d, want 0", n)
	}
}

func TestResetSessionData(t *testing.T) {
	db := testDB(t)

	if err := db.PutJSON("notificationPreferences", map[string]bool{"chatMessages": true}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.QueueReceipt(ReceiptSingle, []string{"e1"}, "offline"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("c1", "r1", "hello"); err != nil {
		t.Fatal(err)
	}

	if err := db.ResetSessionData(); err != nil {
		t.Fatal(err)
	}

	var v map[string]bool
	if ok, err := db.GetJSON("notificationPreferences", &v); err != nil || ok {
		t.Errorf("GetJSON after reset = %v, %v", ok, err)
	}
	if n, _ := db.ReceiptCount(); n != 0 {
		t.Errorf("ReceiptCount() = %d, want 0", n)
	}
	if e, err := db.GetOutbox("c1"); err != nil || e != nil {
		t.Errorf("GetOutbox(c1) = %v, %v", e, err)
	}

	// The schema survives.
	if err := db.QueueOutbox("c2", "r1", "again"); err != nil {
		t.Errorf("QueueOutbox after reset: %v", err)
	}
}
