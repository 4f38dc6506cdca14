package store

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"sync"
	"testing"

	"github.com/pulse/messaging-app/internal/chat"
)

// openTestStore connects to the Postgres instance named by TEST_POSTGRES_DSN,
// skipping the test when none is reachable.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}

	st, err := Open(dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// testUsers returns a pair of user ids unlikely to collide with earlier runs
// against the same database.
func testUsers() (int64, int64) {
	base := rand.Int63n(1_000_000_000) + 1_000_000
	return base, base + 1
}

func TestResolveDirectIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	alice, bob := testUsers()

	conv, created, err := st.ResolveDirect(ctx, alice, bob)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if !created {
		t.Error("first resolve did not create")
	}
	if conv.IsGroup {
		t.Error("direct conversation marked as group")
	}

	// Reversed argument order maps to the same conversation.
	again, created, err := st.ResolveDirect(ctx, bob, alice)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if created {
		t.Error("second resolve created a duplicate")
	}
	if again.ID != conv.ID {
		t.Errorf("got conversation %d, want %d", again.ID, conv.ID)
	}

	for _, user := range []int64{alice, bob} {
		ok, err := st.IsParticipant(ctx, conv.ID, user)
		if err != nil || !ok {
			t.Errorf("user %d not a participant (ok=%v, err=%v)", user, ok, err)
		}
	}
}

func TestResolveDirectConcurrent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	alice, bob := testUsers()

	const workers = 8
	ids := make([]int64, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, _, err := st.ResolveDirect(ctx, alice, bob)
			ids[i], errs[i] = conv.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("worker %d resolved conversation %d, worker 0 got %d", i, ids[i], ids[0])
		}
	}
}

func TestCreateGroupCollapsesDuplicateMembers(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	alice, bob := testUsers()

	// The creator appears in the member list and bob appears twice.
	conv, err := st.CreateGroup(ctx, "trip", alice, []int64{alice, bob, bob})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if !conv.IsGroup || conv.Name != "trip" {
		t.Errorf("conversation = %+v", conv)
	}

	ids, err := st.ConversationIDs(ctx, bob)
	if err != nil {
		t.Fatalf("conversation ids: %v", err)
	}
	found := 0
	for _, id := range ids {
		if id == conv.ID {
			found++
		}
	}
	if found != 1 {
		t.Errorf("bob appears in the group %d times, want 1", found)
	}
}

func TestCreateGroupRollsBackOnFailedMember(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	alice, bob := testUsers()

	// The last member violates the user id constraint, so the insert fails
	// mid-batch after the conversation and earlier participants were staged.
	_, err := st.CreateGroup(ctx, "trip", alice, []int64{bob, -1})
	if err == nil {
		t.Fatal("expected an error for the invalid member")
	}

	// Nothing from the batch survives the rollback.
	for _, user := range []int64{alice, bob} {
		ids, err := st.ConversationIDs(ctx, user)
		if err != nil {
			t.Fatalf("conversation ids user=%d: %v", user, err)
		}
		if len(ids) != 0 {
			t.Errorf("user %d kept %d conversations after rollback, want 0", user, len(ids))
		}
	}

	convs, err := st.ListConversations(ctx, alice)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(convs) != 0 {
		t.Errorf("rolled-back group still listed: %+v", convs)
	}
}

func TestAppendMessageOrdering(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	alice, bob := testUsers()

	conv, _, err := st.ResolveDirect(ctx, alice, bob)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var msgs []chat.Message
	for i := 0; i < 5; i++ {
		msg, err := st.AppendMessage(ctx, conv.ID, alice, chat.TypeText, "hello", "")
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		msgs = append(msgs, msg)
	}

	for i := 1; i < len(msgs); i++ {
		if msgs[i].ID <= msgs[i-1].ID {
			t.Errorf("ids not increasing: %d after %d", msgs[i].ID, msgs[i-1].ID)
		}
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Errorf("timestamps regress at %d: %v before %v", i, msgs[i].Timestamp, msgs[i-1].Timestamp)
		}
	}

	history, err := st.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != len(msgs) {
		t.Fatalf("history has %d messages, want %d", len(history), len(msgs))
	}
	for i := range history {
		if history[i].ID != msgs[i].ID {
			t.Errorf("history[%d].ID = %d, want %d", i, history[i].ID, msgs[i].ID)
		}
	}

	// Appending bumps the conversation's activity timestamp.
	convs, err := st.ListConversations(ctx, alice)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	for _, c := range convs {
		if c.ID == conv.ID && !c.LastMessageAt.Equal(msgs[len(msgs)-1].Timestamp) {
			t.Errorf("last_message_at = %v, want %v", c.LastMessageAt, msgs[len(msgs)-1].Timestamp)
		}
	}
}

func TestAppendMessageMissingConversation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.AppendMessage(ctx, -1, 1, chat.TypeText, "hello", "")
	if !errors.Is(err, chat.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestAppendMediaMessage(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	alice, bob := testUsers()

	conv, _, err := st.ResolveDirect(ctx, alice, bob)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	msg, err := st.AppendMessage(ctx, conv.ID, alice, chat.TypeImage, "caption", "uploads/a.jpg")
	if err != nil {
		t.Fatalf("append media: %v", err)
	}
	if msg.Type != chat.TypeImage || msg.MediaKey != "uploads/a.jpg" {
		t.Errorf("message = %+v", msg)
	}

	history, err := st.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := history[len(history)-1].MediaKey; got != "uploads/a.jpg" {
		t.Errorf("media key round trip = %q", got)
	}
}

func TestUpdateLastReadMonotonic(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	alice, bob := testUsers()

	conv, _, err := st.ResolveDirect(ctx, alice, bob)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var last chat.Message
	for i := 0; i < 3; i++ {
		last, err = st.AppendMessage(ctx, conv.ID, alice, chat.TypeText, "m", "")
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	advanced, err := st.UpdateLastRead(ctx, conv.ID, bob, last.ID)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !advanced {
		t.Error("marker did not advance on first update")
	}

	// A stale acknowledgement neither regresses nor reports advancement.
	advanced, err = st.UpdateLastRead(ctx, conv.ID, bob, last.ID-1)
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if advanced {
		t.Error("stale update reported advancement")
	}

	// Repeating the same value is also a no-op.
	advanced, err = st.UpdateLastRead(ctx, conv.ID, bob, last.ID)
	if err != nil {
		t.Fatalf("repeat update: %v", err)
	}
	if advanced {
		t.Error("repeated update reported advancement")
	}
}

func TestDirectKey(t *testing.T) {
	if got := directKey(7, 3); got != "3:7" {
		t.Errorf("directKey(7,3) = %q, want %q", got, "3:7")
	}
	if directKey(3, 7) != directKey(7, 3) {
		t.Error("directKey is order sensitive")
	}
}

// Ensure the store satisfies the service contract.
var _ chat.Store = (*Store)(nil)
