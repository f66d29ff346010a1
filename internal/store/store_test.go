package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
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

// seedConversation creates users alice and bob and a conversation c1 between them.
func seedConversation(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	if err := db.UpsertUser(ctx, "alice", "Alice", 1); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertUser(ctx, "bob", "Bob", 1); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateConversation(ctx, "c1", []string{"alice", "bob"}, 1); err != nil {
		t.Fatal(err)
	}
}

func strPtr(s string) *string { return &s }

func insertText(t *testing.T, db *DB, id, from, to string, at int64) *Message {
	t.Helper()
	m := &Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       from,
		RecipientID:    to,
		Type:           MessageText,
		Body:           strPtr("hello " + id),
		CreatedAt:      at,
	}
	ok, err := db.InsertMessage(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("insert %s: not inserted", id)
	}
	return m
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestInsertMessageClientIDDedupe(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()

	first := &Message{ID: "m1", ConversationID: "c1", SenderID: "alice", RecipientID: "bob",
		Type: MessageText, Body: strPtr("hi"), ClientID: strPtr("cid-1"), CreatedAt: 10}
	ok, err := db.InsertMessage(ctx, first)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}

	retry := &Message{ID: "m2", ConversationID: "c1", SenderID: "alice", RecipientID: "bob",
		Type: MessageText, Body: strPtr("hi again"), ClientID: strPtr("cid-1"), CreatedAt: 20}
	ok, err = db.InsertMessage(ctx, retry)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("retry with same client id should not insert")
	}

	got, err := db.GetMessageByClientID(ctx, "c1", "alice", "cid-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "m1" || *got.Body != "hi" {
		t.Fatalf("GetMessageByClientID = %+v, want original m1", got)
	}

	// Another sender may reuse the same client id.
	other := &Message{ID: "m3", ConversationID: "c1", SenderID: "bob", RecipientID: "alice",
		Type: MessageText, Body: strPtr("yo"), ClientID: strPtr("cid-1"), CreatedAt: 30}
	if ok, err := db.InsertMessage(ctx, other); err != nil || !ok {
		t.Fatalf("other sender insert: ok=%v err=%v", ok, err)
	}

	// Messages without a client id never collide.
	insertText(t, db, "m4", "alice", "bob", 40)
	insertText(t, db, "m5", "alice", "bob", 40)
}

func TestInsertMessageConcurrentRetriesCollapse(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &Message{ID: fmt.Sprintf("m%d", i), ConversationID: "c1", SenderID: "alice", RecipientID: "bob",
				Type: MessageText, Body: strPtr("hi"), ClientID: strPtr("same"), CreatedAt: 10}
			ok, err := db.InsertMessage(ctx, m)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if inserted != 1 {
		t.Errorf("inserted = %d, want 1", inserted)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE client_id = 'same'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestMarkDeliveredOnlyOnce(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()

	insertText(t, db, "m1", "alice", "bob", 10)
	insertText(t, db, "m2", "alice", "bob", 20)
	insertText(t, db, "m3", "bob", "alice", 30)

	got, err := db.MarkDelivered(ctx, DeliveredFilter{RecipientID: "bob"}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("delivered = %v, want [m1 m2]", ids(got))
	}
	if got[0].DeliveredAt == nil || *got[0].DeliveredAt != 100 {
		t.Errorf("DeliveredAt = %v, want 100", got[0].DeliveredAt)
	}

	again, err := db.MarkDelivered(ctx, DeliveredFilter{RecipientID: "bob"}, 200)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second call delivered %v, want none", ids(again))
	}

	m1, _ := db.GetMessage(ctx, "m1")
	if *m1.DeliveredAt != 100 {
		t.Errorf("DeliveredAt overwritten: %d", *m1.DeliveredAt)
	}
}

func TestMarkDeliveredFilters(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()

	insertText(t, db, "m1", "alice", "bob", 10)
	insertText(t, db, "m2", "alice", "bob", 20)

	got, err := db.MarkDelivered(ctx, DeliveredFilter{RecipientID: "bob", MessageIDs: []string{}}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("empty id set delivered %v", ids(got))
	}

	got, err = db.MarkDelivered(ctx, DeliveredFilter{RecipientID: "bob", MessageIDs: []string{"m2"}}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "m2" {
		t.Errorf("delivered = %v, want [m2]", ids(got))
	}

	// Sender cannot mark their own message delivered.
	got, err = db.MarkDelivered(ctx, DeliveredFilter{RecipientID: "alice", MessageIDs: []string{"m1"}}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("sender delivered %v", ids(got))
	}
}

func TestMarkDeliveredConcurrent(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		insertText(t, db, fmt.Sprintf("m%d", i), "alice", "bob", int64(i+1))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := db.MarkDelivered(ctx, DeliveredFilter{RecipientID: "bob"}, 100)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			total += len(got)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 5 {
		t.Errorf("rows reported across callers = %d, want 5", total)
	}
}

func TestMarkSeenBackfillsDelivered(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()

	insertText(t, db, "m1", "alice", "bob", 10)
	insertText(t, db, "m2", "alice", "bob", 20)
	if _, err := db.MarkDelivered(ctx, DeliveredFilter{RecipientID: "bob", MessageIDs: []string{"m1"}}, 50); err != nil {
		t.Fatal(err)
	}

	got, err := db.MarkSeen(ctx, "bob", "c1", nil, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("seen = %v, want 2 rows", ids(got))
	}
	for _, m := range got {
		if m.DeliveredAt == nil || m.SeenAt == nil {
			t.Fatalf("%s: delivered=%v seen=%v", m.ID, m.DeliveredAt, m.SeenAt)
		}
		if *m.DeliveredAt > *m.SeenAt {
			t.Errorf("%s: delivered %d after seen %d", m.ID, *m.DeliveredAt, *m.SeenAt)
		}
	}
	if *got[0].DeliveredAt != 50 {
		t.Errorf("m1 delivered_at = %d, want 50 (kept)", *got[0].DeliveredAt)
	}
	if *got[1].DeliveredAt != 100 {
		t.Errorf("m2 delivered_at = %d, want 100 (backfilled)", *got[1].DeliveredAt)
	}

	again, err := db.MarkSeen(ctx, "bob", "c1", nil, 200)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second MarkSeen = %v, want none", ids(again))
	}
}

func TestMarkSeenNeverPrecedesDelivered(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()

	insertText(t, db, "m1", "alice", "bob", 10)
	if _, err := db.MarkDelivered(ctx, DeliveredFilter{RecipientID: "bob"}, 500); err != nil {
		t.Fatal(err)
	}
	// Clock skew: seen stamped earlier than delivery.
	got, err := db.MarkSeen(ctx, "bob", "c1", nil, 400)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || *got[0].SeenAt != 500 {
		t.Fatalf("seen = %+v, want seen_at clamped to 500", got)
	}
}

func TestCountUnread(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()

	insertText(t, db, "m1", "alice", "bob", 10)
	insertText(t, db, "m2", "alice", "bob", 20)
	insertText(t, db, "m3", "bob", "alice", 30)

	n, err := db.CountUnread(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("unread = %d, want 2", n)
	}

	if ok, err := db.DeleteForEveryone(ctx, "m2", "alice", 40); err != nil || !ok {
		t.Fatalf("DeleteForEveryone: ok=%v err=%v", ok, err)
	}
	if _, err := db.MarkSeen(ctx, "bob", "c1", []string{"m1"}, 50); err != nil {
		t.Fatal(err)
	}
	n, err = db.CountUnread(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("unread = %d, want 0", n)
	}
}

func TestListVisibleMessages(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		insertText(t, db, fmt.Sprintf("m%d", i), "alice", "bob", int64(i*10))
	}

	page, err := db.ListVisibleMessages(ctx, "c1", "bob", "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(page); fmt.Sprint(got) != "[m3 m4 m5]" {
		t.Errorf("latest page = %v, want [m3 m4 m5]", got)
	}

	page, err = db.ListVisibleMessages(ctx, "c1", "bob", "m3", 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(page); fmt.Sprint(got) != "[m1 m2]" {
		t.Errorf("older page = %v, want [m1 m2]", got)
	}

	// bob hides the conversation after m2; alice deletes m4 for everyone.
	if err := db.HideConversation(ctx, "c1", "bob", 20); err != nil {
		t.Fatal(err)
	}
	if _, err := db.DeleteForEveryone(ctx, "m4", "alice", 60); err != nil {
		t.Fatal(err)
	}

	page, err = db.ListVisibleMessages(ctx, "c1", "bob", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(page); fmt.Sprint(got) != "[m3 m5]" {
		t.Errorf("bob sees %v, want [m3 m5]", got)
	}
	page, err = db.ListVisibleMessages(ctx, "c1", "alice", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(page); fmt.Sprint(got) != "[m1 m2 m3 m5]" {
		t.Errorf("alice sees %v, want [m1 m2 m3 m5]", got)
	}

	if m, err := db.VisibleMessage(ctx, "m1", "bob"); err != nil || m != nil {
		t.Errorf("VisibleMessage(m1, bob) = %v, %v; want nil", m, err)
	}
	if m, err := db.VisibleMessage(ctx, "m1", "carol"); err != nil || m != nil {
		t.Errorf("VisibleMessage for non-participant = %v, %v; want nil", m, err)
	}
}

func TestReactions(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()
	insertText(t, db, "m1", "alice", "bob", 10)

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.PutReaction(ctx, Reaction{MessageID: "m1", UserID: "alice", Emoji: "👍", UpdatedAt: 1}); err != nil {
			return err
		}
		if err := tx.PutReaction(ctx, Reaction{MessageID: "m1", UserID: "bob", Emoji: "❤️", UpdatedAt: 2}); err != nil {
			return err
		}
		// Replaces alice's first reaction.
		return tx.PutReaction(ctx, Reaction{MessageID: "m1", UserID: "alice", Emoji: "❤️", UpdatedAt: 3})
	})
	if err != nil {
		t.Fatal(err)
	}

	counts, err := db.ReactionCounts(ctx, "m1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 1 || counts[0].Emoji != "❤️" || counts[0].Count != 2 || !counts[0].ReactedByMe {
		t.Fatalf("counts = %+v", counts)
	}

	err = db.WithTx(ctx, func(tx *Tx) error {
		r, err := tx.GetReaction(ctx, "m1", "bob")
		if err != nil {
			return err
		}
		if r == nil || r.Emoji != "❤️" {
			return fmt.Errorf("GetReaction = %+v", r)
		}
		return tx.DeleteReaction(ctx, "m1", "bob")
	})
	if err != nil {
		t.Fatal(err)
	}

	counts, err = db.ReactionCounts(ctx, "m1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 1 || counts[0].Count != 1 || counts[0].ReactedByMe {
		t.Fatalf("counts after delete = %+v", counts)
	}
}

func TestReactionCountsOrdering(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()
	insertText(t, db, "m1", "alice", "bob", 10)

	rows := []Reaction{
		{MessageID: "m1", UserID: "u1", Emoji: "b", UpdatedAt: 1},
		{MessageID: "m1", UserID: "u2", Emoji: "a", UpdatedAt: 1},
		{MessageID: "m1", UserID: "u3", Emoji: "c", UpdatedAt: 1},
		{MessageID: "m1", UserID: "u4", Emoji: "c", UpdatedAt: 1},
	}
	err := db.WithTx(ctx, func(tx *Tx) error {
		for _, r := range rows {
			if err := tx.PutReaction(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	counts, err := db.ReactionCounts(ctx, "m1", "nobody")
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, c := range counts {
		order = append(order, fmt.Sprintf("%s%d", c.Emoji, c.Count))
	}
	if fmt.Sprint(order) != "[c2 a1 b1]" {
		t.Errorf("order = %v, want [c2 a1 b1]", order)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()
	insertText(t, db, "m1", "alice", "bob", 10)

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.PutReaction(ctx, Reaction{MessageID: "m1", UserID: "bob", Emoji: "x", UpdatedAt: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	counts, err := db.ReactionCounts(ctx, "m1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 0 {
		t.Errorf("reaction survived rollback: %+v", counts)
	}
}

func TestParticipantsAndBlocks(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()

	ok, err := db.IsParticipant(ctx, "c1", "alice")
	if err != nil || !ok {
		t.Errorf("alice participant = %v, %v", ok, err)
	}
	ok, err = db.IsParticipant(ctx, "c1", "carol")
	if err != nil || ok {
		t.Errorf("carol participant = %v, %v", ok, err)
	}

	parts, err := db.ListParticipants(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(parts) != "[alice bob]" {
		t.Errorf("participants = %v", parts)
	}

	if err := db.UpdateReadCursor(ctx, "c1", "bob", "m9"); err != nil {
		t.Fatal(err)
	}
	if cur, _ := db.ReadCursor(ctx, "c1", "bob"); cur != "m9" {
		t.Errorf("read cursor = %q, want m9", cur)
	}

	if blocked, _ := db.IsBlocked(ctx, "alice", "bob"); blocked {
		t.Error("unexpected block")
	}
	if err := db.Block(ctx, "bob", "alice", 1); err != nil {
		t.Fatal(err)
	}
	if blocked, _ := db.IsBlocked(ctx, "alice", "bob"); !blocked {
		t.Error("block not seen from the other side")
	}
	if err := db.Unblock(ctx, "bob", "alice"); err != nil {
		t.Fatal(err)
	}
	if blocked, _ := db.IsBlocked(ctx, "bob", "alice"); blocked {
		t.Error("block survived unblock")
	}
}

func TestSettingsAndUsername(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db)
	ctx := context.Background()

	on, err := db.ReadReceiptsEnabled(ctx, "bob")
	if err != nil || !on {
		t.Errorf("default read receipts = %v, %v; want true", on, err)
	}
	if err := db.SetReadReceipts(ctx, "bob", false, 1); err != nil {
		t.Fatal(err)
	}
	if on, _ := db.ReadReceiptsEnabled(ctx, "bob"); on {
		t.Error("read receipts still enabled")
	}

	if name, _ := db.Username(ctx, "alice"); name != "Alice" {
		t.Errorf("username = %q", name)
	}
	if name, err := db.Username(ctx, "ghost"); err != nil || name != "" {
		t.Errorf("unknown username = %q, %v", name, err)
	}
}

func TestPushSubscriptions(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	sub := PushSubscription{UserID: "bob", Endpoint: "https://push.example/1", P256dh: "k1", Auth: "a1", UpdatedAt: 1}
	if err := db.UpsertPushSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	sub.P256dh = "k2"
	sub.UpdatedAt = 2
	if err := db.UpsertPushSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertPushSubscription(ctx, PushSubscription{UserID: "bob", Endpoint: "apns:abc", UpdatedAt: 3}); err != nil {
		t.Fatal(err)
	}

	subs, err := db.ListPushSubscriptions(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Fatalf("subs = %d, want 2", len(subs))
	}
	if subs[0].P256dh != "k2" {
		t.Errorf("P256dh = %q, want k2 after upsert", subs[0].P256dh)
	}

	if err := db.DeletePushSubscription(ctx, "bob", "apns:abc"); err != nil {
		t.Fatal(err)
	}
	subs, _ = db.ListPushSubscriptions(ctx, "bob")
	if len(subs) != 1 {
		t.Errorf("subs after delete = %d, want 1", len(subs))
	}
}

func ids(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
