package message

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/msghub/internal/account"
	"github.com/nao1215/msghub/internal/apperr"
	"github.com/nao1215/msghub/internal/email"
	messagingdb "github.com/nao1215/msghub/internal/messaging/db"
	"github.com/nao1215/msghub/internal/notification"
	"github.com/nao1215/msghub/pkg/event"
)

// recordingEmitter は配信されたイベントを記録するテスト用Emitter。
type recordingEmitter struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *recordingEmitter) Emit(_ context.Context, ev *event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// byType は指定した種類のイベントを配信順に返す。
func (r *recordingEmitter) byType(t event.Type) []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*event.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// recordingMailer は送信依頼を記録するテスト用Mailer。
type recordingMailer struct {
	mu   sync.Mutex
	sent []email.MessageEmail
	err  error
}

func (r *recordingMailer) SendMessage(_ context.Context, m email.MessageEmail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, m)
	return nil
}

func (r *recordingMailer) all() []email.MessageEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]email.MessageEmail(nil), r.sent...)
}

type testEnv struct {
	db       *sql.DB
	svc      *Service
	accounts *account.Service
	notifs   *notification.Service
	emitter  *recordingEmitter
	mailer   *recordingMailer
}

// setupTestEnv はインメモリSQLiteとテスト用アカウントでServiceを生成する。
// adminは管理者、alice・bob・carolは一般アカウント。
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sqlDB, err := messagingdb.Open(t.Context(), ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	queries := messagingdb.New(sqlDB)
	em := &recordingEmitter{}
	mailer := &recordingMailer{}
	accounts := account.NewService(queries)
	notifs := notification.NewService(queries, em)
	svc := NewService(sqlDB, accounts, notifs, em, WithMailer(mailer, time.Second))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, a := range []account.Account{
		{ID: "admin", Username: "root", Email: "admin@example.com", DisplayName: "管理者", IsAdmin: true},
		{ID: "alice", Username: "alice", Email: "alice@example.com", DisplayName: "Alice"},
		{ID: "bob", Username: "bob", Email: "bob@example.com", DisplayName: "Bob"},
		{ID: "carol", Username: "carol", DisplayName: "Carol"},
	} {
		if err := accounts.Upsert(t.Context(), a); err != nil {
			t.Fatalf("アカウントの作成に失敗: %v", err)
		}
	}

	return &testEnv{db: sqlDB, svc: svc, accounts: accounts, notifs: notifs, emitter: em, mailer: mailer}
}

// mustSend はテスト用のメッセージを送信する。
func mustSend(t *testing.T, svc *Service, from, to, body string) View {
	t.Helper()

	v, err := svc.Send(t.Context(), from, SendParams{RecipientID: to, Body: body})
	if err != nil {
		t.Fatalf("Send()でエラーが発生: %v", err)
	}
	return v
}

func wantKind(t *testing.T, err error, want apperr.Kind) {
	t.Helper()
	if got := apperr.KindOf(err); got != want {
		t.Errorf("エラー種別 = %v, want %v (err=%v)", got, want, err)
	}
}

func TestSend(t *testing.T) {
	t.Parallel()

	t.Run("送信したメッセージが未読で保存されること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		v := mustSend(t, env.svc, "alice", "bob", "こんにちは")
		if v.IsRead || v.IsAdminBroadcast {
			t.Errorf("View = %+v, want 未読の通常メッセージ", v)
		}
		if v.Sender == nil || v.Sender.DisplayName != "Alice" {
			t.Errorf("Sender = %+v", v.Sender)
		}

		n, err := env.svc.UnreadCount(t.Context(), "bob")
		if err != nil {
			t.Fatalf("UnreadCount()でエラーが発生: %v", err)
		}
		if n != 1 {
			t.Errorf("未読数 = %d, want 1", n)
		}
	})

	t.Run("受信者と送信者のルームへmessage:newを配信すること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		mustSend(t, env.svc, "alice", "bob", "こんにちは")

		evs := env.emitter.byType(event.TypeMessageNew)
		if len(evs) != 2 {
			t.Fatalf("イベント数 = %d, want 2", len(evs))
		}
		if evs[0].Room != "bob" || evs[1].Room != "alice" {
			t.Errorf("配信先 = [%s %s], want [bob alice]", evs[0].Room, evs[1].Room)
		}
		got, err := event.DecodeData[View](evs[0])
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if got.Body != "こんにちは" {
			t.Errorf("Body = %q", got.Body)
		}
	})

	t.Run("本文が空の場合はValidation", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		_, err := env.svc.Send(t.Context(), "alice", SendParams{RecipientID: "bob", Body: "  \n"})
		wantKind(t, err, apperr.KindValidation)
	})

	t.Run("自分自身への送信はValidation", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		_, err := env.svc.Send(t.Context(), "alice", SendParams{RecipientID: "alice", Body: "x"})
		wantKind(t, err, apperr.KindValidation)
	})

	t.Run("存在しない宛先はNotFound", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		_, err := env.svc.Send(t.Context(), "alice", SendParams{RecipientID: "nobody", Body: "x"})
		wantKind(t, err, apperr.KindNotFound)
	})

	t.Run("メール指定時は受信者にメールを送ること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		v, err := env.svc.Send(t.Context(), "alice", SendParams{RecipientID: "bob", Subject: "件名", Body: "本文", ViaEmail: true})
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		env.svc.Wait()

		if !v.ViaEmail {
			t.Error("ViaEmailがfalse")
		}
		sent := env.mailer.all()
		if len(sent) != 1 {
			t.Fatalf("送信数 = %d, want 1", len(sent))
		}
		if sent[0].ToEmail != "bob@example.com" || sent[0].SenderName != "Alice" || sent[0].ThreadID != "alice" {
			t.Errorf("メール = %+v", sent[0])
		}
	})

	t.Run("メール送信に失敗してもメッセージは保存されること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		env.mailer.err = errors.New("smtp down")

		if _, err := env.svc.Send(t.Context(), "alice", SendParams{RecipientID: "bob", Body: "本文", ViaEmail: true}); err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		env.svc.Wait()

		thread, err := env.svc.GetThread(t.Context(), "bob", "alice")
		if err != nil {
			t.Fatalf("GetThread()でエラーが発生: %v", err)
		}
		if len(thread) != 1 {
			t.Errorf("len(thread) = %d, want 1", len(thread))
		}
	})

	t.Run("メールアドレスのない受信者にはメールを送らないこと", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		v, err := env.svc.Send(t.Context(), "alice", SendParams{RecipientID: "carol", Body: "本文", ViaEmail: true})
		if err != nil {
			t.Fatalf("Send()でエラーが発生: %v", err)
		}
		env.svc.Wait()

		if v.ViaEmail {
			t.Error("ViaEmailがtrue")
		}
		if n := len(env.mailer.all()); n != 0 {
			t.Errorf("送信数 = %d, want 0", n)
		}
	})
}

func TestSendBlocked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		blocker    string
		blocked    string
		wantReason string
	}{
		{name: "送信者がブロックしている場合はi_blocked", blocker: "alice", blocked: "bob", wantReason: "i_blocked"},
		{name: "受信者にブロックされている場合はthey_blocked_me", blocker: "bob", blocked: "alice", wantReason: "they_blocked_me"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := setupTestEnv(t)

			if _, err := env.accounts.Block(t.Context(), tt.blocker, tt.blocked); err != nil {
				t.Fatalf("Block()でエラーが発生: %v", err)
			}

			_, err := env.svc.Send(t.Context(), "alice", SendParams{RecipientID: "bob", Body: "x"})
			e, ok := apperr.As(err)
			if !ok || e.Kind != apperr.KindBlocked {
				t.Fatalf("err = %v, want Blocked", err)
			}
			if e.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", e.Reason, tt.wantReason)
			}

			n, err := env.svc.UnreadCount(t.Context(), "bob")
			if err != nil {
				t.Fatalf("UnreadCount()でエラーが発生: %v", err)
			}
			if n != 0 {
				t.Errorf("ブロック時にメッセージが保存された: 未読数 = %d", n)
			}
			if evs := env.emitter.byType(event.TypeMessageNew); len(evs) != 0 {
				t.Errorf("ブロック時にイベントが配信された: %d件", len(evs))
			}
		})
	}

	t.Run("ブロック解除後は送信できること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		if _, err := env.accounts.Block(t.Context(), "bob", "alice"); err != nil {
			t.Fatalf("Block()でエラーが発生: %v", err)
		}
		if _, err := env.accounts.Unblock(t.Context(), "bob", "alice"); err != nil {
			t.Fatalf("Unblock()でエラーが発生: %v", err)
		}
		mustSend(t, env.svc, "alice", "bob", "再送")
	})
}

func TestBroadcast(t *testing.T) {
	t.Parallel()

	t.Run("全アカウントへの一斉送信でメッセージと通知が作成されること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		res, err := env.svc.Broadcast(t.Context(), "admin", BroadcastParams{All: true, Subject: "New course released", Body: "見てください"})
		if err != nil {
			t.Fatalf("Broadcast()でエラーが発生: %v", err)
		}
		if res.Sent != 3 || res.Failed != 0 || res.Recipients != 3 || len(res.MessageIDs) != 3 {
			t.Errorf("結果 = %+v, want sent=3 failed=0 recipients=3", res)
		}

		for _, id := range []string{"alice", "bob", "carol"} {
			thread, err := env.svc.GetThread(t.Context(), id, BroadcastThreadID)
			if err != nil {
				t.Fatalf("GetThread()でエラーが発生: %v", err)
			}
			if len(thread) != 1 || !thread[0].IsAdminBroadcast || thread[0].DisplayName != BroadcastDisplayName {
				t.Errorf("%sの一斉送信スレッド = %+v", id, thread)
			}

			ns, err := env.notifs.List(t.Context(), id)
			if err != nil {
				t.Fatalf("List()でエラーが発生: %v", err)
			}
			if len(ns) != 1 {
				t.Fatalf("%sの通知数 = %d, want 1", id, len(ns))
			}
			if ns[0].Type != notification.TypeCourse || ns[0].Link != notification.BroadcastLink {
				t.Errorf("通知 = %+v", ns[0])
			}
		}

		evs := env.emitter.byType(event.TypeNotificationNew)
		if len(evs) != 3 {
			t.Fatalf("notification:newの数 = %d, want 3", len(evs))
		}
		rooms := map[string]bool{}
		for _, ev := range evs {
			rooms[ev.Room] = true
		}
		if rooms["admin"] || !rooms["alice"] || !rooms["bob"] || !rooms["carol"] {
			t.Errorf("配信先 = %v", rooms)
		}
	})

	t.Run("宛先をユーザー名やメールアドレスで指定できること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		res, err := env.svc.Broadcast(t.Context(), "admin", BroadcastParams{
			Recipients: []string{"ALICE", "bob@example.com", "bob", "unknown", "root"},
			Body:       "お知らせ",
		})
		if err != nil {
			t.Fatalf("Broadcast()でエラーが発生: %v", err)
		}
		if res.Recipients != 2 || res.Sent != 2 {
			t.Errorf("結果 = %+v, want 2件", res)
		}

		ns, err := env.notifs.List(t.Context(), "carol")
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if len(ns) != 0 {
			t.Errorf("宛先外のcarolに通知が作成された")
		}
	})

	t.Run("一部の宛先で保存に失敗しても残りの宛先には届くこと", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		if _, err := env.db.ExecContext(t.Context(), `
CREATE TRIGGER reject_bob BEFORE INSERT ON messages
WHEN NEW.recipient_id = 'bob'
BEGIN SELECT RAISE(ABORT, 'rejected'); END`); err != nil {
			t.Fatalf("トリガーの作成に失敗: %v", err)
		}

		res, err := env.svc.Broadcast(t.Context(), "admin", BroadcastParams{All: true, Body: "お知らせ"})
		if err != nil {
			t.Fatalf("Broadcast()でエラーが発生: %v", err)
		}
		if res.Sent != 2 || res.Failed != 1 || res.Recipients != 3 || len(res.MessageIDs) != 2 {
			t.Errorf("結果 = %+v, want sent=2 failed=1 recipients=3", res)
		}

		for id, want := range map[string]int{"alice": 1, "bob": 0, "carol": 1} {
			thread, err := env.svc.GetThread(t.Context(), id, BroadcastThreadID)
			if err != nil {
				t.Fatalf("GetThread()でエラーが発生: %v", err)
			}
			if len(thread) != want {
				t.Errorf("%sの一斉送信 = %d件, want %d", id, len(thread), want)
			}
			ns, err := env.notifs.List(t.Context(), id)
			if err != nil {
				t.Fatalf("List()でエラーが発生: %v", err)
			}
			if len(ns) != want {
				t.Errorf("%sの通知 = %d件, want %d", id, len(ns), want)
			}
		}

		for _, ev := range env.emitter.byType(event.TypeNotificationNew) {
			if ev.Room == "bob" {
				t.Error("保存に失敗したbobへnotification:newが配信された")
			}
		}
	})

	t.Run("管理者以外はForbidden", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		_, err := env.svc.Broadcast(t.Context(), "alice", BroadcastParams{All: true, Body: "x"})
		wantKind(t, err, apperr.KindForbidden)
	})

	t.Run("宛先が解決できない場合はValidation", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		_, err := env.svc.Broadcast(t.Context(), "admin", BroadcastParams{Recipients: []string{"nobody"}, Body: "x"})
		wantKind(t, err, apperr.KindValidation)

		_, err = env.svc.Broadcast(t.Context(), "admin", BroadcastParams{Body: "x"})
		wantKind(t, err, apperr.KindValidation)
	})

	t.Run("本文が空の場合はValidation", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		_, err := env.svc.Broadcast(t.Context(), "admin", BroadcastParams{All: true, Body: ""})
		wantKind(t, err, apperr.KindValidation)
	})

	t.Run("メール指定時はメールアドレスを持つ宛先にだけ送ること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		if _, err := env.svc.Broadcast(t.Context(), "admin", BroadcastParams{All: true, Body: "x", SendEmail: true}); err != nil {
			t.Fatalf("Broadcast()でエラーが発生: %v", err)
		}
		env.svc.Wait()

		sent := env.mailer.all()
		if len(sent) != 2 {
			t.Fatalf("送信数 = %d, want 2", len(sent))
		}
		for _, m := range sent {
			if m.ThreadID != BroadcastThreadID || m.SenderName != BroadcastDisplayName {
				t.Errorf("メール = %+v", m)
			}
		}
	})
}

func TestBroadcastMasking(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	if _, err := env.svc.Broadcast(t.Context(), "admin", BroadcastParams{All: true, Body: "お知らせ"}); err != nil {
		t.Fatalf("Broadcast()でエラーが発生: %v", err)
	}

	t.Run("受信者の受信箱では送信者が隠されること", func(t *testing.T) {
		inbox, err := env.svc.Inbox(t.Context(), "alice")
		if err != nil {
			t.Fatalf("Inbox()でエラーが発生: %v", err)
		}
		if len(inbox) != 1 {
			t.Fatalf("len(inbox) = %d, want 1", len(inbox))
		}
		if inbox[0].SenderID != "" || inbox[0].Sender.ID != "" {
			t.Errorf("送信者が隠されていない: %+v", inbox[0])
		}
	})

	t.Run("管理者の閲覧では送信者が表示されること", func(t *testing.T) {
		thread, err := env.svc.GetThread(t.Context(), "admin", "alice")
		if err != nil {
			t.Fatalf("GetThread()でエラーが発生: %v", err)
		}
		if len(thread) != 1 {
			t.Fatalf("len(thread) = %d, want 1", len(thread))
		}
		if thread[0].SenderID != "admin" || thread[0].Sender.ID != "admin" || !thread[0].IsAdminBroadcast {
			t.Errorf("管理者向けに送信者が表示されていない: %+v", thread[0])
		}
		if thread[0].DisplayName != BroadcastDisplayName {
			t.Errorf("DisplayName = %q, want %q", thread[0].DisplayName, BroadcastDisplayName)
		}

		convs, err := env.svc.Conversations(t.Context(), "admin")
		if err != nil {
			t.Fatalf("Conversations()でエラーが発生: %v", err)
		}
		if len(convs) != 3 {
			t.Fatalf("len(convs) = %d, want 3", len(convs))
		}
		for _, c := range convs {
			if c.OtherID == BroadcastThreadID || c.LastMessage.SenderID != "admin" || c.UnreadCount != 0 {
				t.Errorf("管理者のスレッド = %+v", c)
			}
		}
	})

	t.Run("受信者の相手別スレッドには一斉送信が含まれないこと", func(t *testing.T) {
		thread, err := env.svc.GetThread(t.Context(), "carol", "admin")
		if err != nil {
			t.Fatalf("GetThread()でエラーが発生: %v", err)
		}
		if len(thread) != 0 {
			t.Errorf("len(thread) = %d, want 0", len(thread))
		}
	})

	t.Run("受信者が返信すると管理者と受信者の両方に配信されること", func(t *testing.T) {
		inbox, err := env.svc.Inbox(t.Context(), "bob")
		if err != nil {
			t.Fatalf("Inbox()でエラーが発生: %v", err)
		}
		if len(inbox) != 1 {
			t.Fatalf("len(inbox) = %d, want 1", len(inbox))
		}
		_, err = env.svc.Reply(t.Context(), inbox[0].ID, "bob", "返信")
		wantKind(t, err, apperr.KindForbidden)

		v, err := env.svc.Reply(t.Context(), inbox[0].ID, "admin", "補足です")
		if err != nil {
			t.Fatalf("Reply()でエラーが発生: %v", err)
		}
		if len(v.Replies) != 1 || v.Replies[0].SenderID != "admin" {
			t.Errorf("管理者向けの返信 = %+v", v.Replies)
		}

		var toBob *View
		for _, ev := range env.emitter.byType(event.TypeMessageNew) {
			if ev.Room == "bob" {
				toBob, err = event.DecodeData[View](ev)
				if err != nil {
					t.Fatalf("DecodeData()でエラーが発生: %v", err)
				}
			}
		}
		if toBob == nil {
			t.Fatal("bobへのイベントが配信されていない")
		}
		if toBob.SenderID != "" || toBob.Replies[0].SenderID != "" {
			t.Errorf("bob向けのイベントで管理者IDが見えている: %+v", toBob)
		}
	})
}

func TestGetThread(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	mustSend(t, env.svc, "alice", "bob", "1")
	mustSend(t, env.svc, "bob", "alice", "2")
	mustSend(t, env.svc, "alice", "carol", "別スレッド")
	mustSend(t, env.svc, "alice", "bob", "3")

	thread, err := env.svc.GetThread(t.Context(), "bob", "alice")
	if err != nil {
		t.Fatalf("GetThread()でエラーが発生: %v", err)
	}
	var bodies []string
	for _, v := range thread {
		bodies = append(bodies, v.Body)
	}
	if len(bodies) != 3 || bodies[0] != "1" || bodies[1] != "2" || bodies[2] != "3" {
		t.Errorf("スレッド = %v, want [1 2 3]", bodies)
	}

	_, err = env.svc.GetThread(t.Context(), "bob", "")
	wantKind(t, err, apperr.KindValidation)
}

func TestInbox(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	mustSend(t, env.svc, "alice", "bob", "古い")
	mustSend(t, env.svc, "bob", "alice", "送信済み")
	mustSend(t, env.svc, "carol", "bob", "新しい")

	inbox, err := env.svc.Inbox(t.Context(), "bob")
	if err != nil {
		t.Fatalf("Inbox()でエラーが発生: %v", err)
	}
	if len(inbox) != 2 {
		t.Fatalf("len(inbox) = %d, want 2", len(inbox))
	}
	if inbox[0].Body != "新しい" || inbox[1].Body != "古い" {
		t.Errorf("受信箱の順序 = [%s %s], want [新しい 古い]", inbox[0].Body, inbox[1].Body)
	}
}

func TestConversations(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	mustSend(t, env.svc, "alice", "bob", "a1")
	mustSend(t, env.svc, "alice", "bob", "a2")
	mustSend(t, env.svc, "bob", "carol", "c1")
	if _, err := env.svc.Broadcast(t.Context(), "admin", BroadcastParams{All: true, Body: "お知らせ"}); err != nil {
		t.Fatalf("Broadcast()でエラーが発生: %v", err)
	}

	convs, err := env.svc.Conversations(t.Context(), "bob")
	if err != nil {
		t.Fatalf("Conversations()でエラーが発生: %v", err)
	}
	if len(convs) != 3 {
		t.Fatalf("len(convs) = %d, want 3", len(convs))
	}

	if convs[0].OtherID != BroadcastThreadID || convs[0].Other.DisplayName != BroadcastDisplayName {
		t.Errorf("先頭 = %+v, want 一斉送信スレッド", convs[0])
	}
	if convs[0].LastMessage.SenderID != "" {
		t.Errorf("一斉送信の送信者が見えている: %+v", convs[0].LastMessage)
	}
	if convs[1].OtherID != "carol" || convs[1].UnreadCount != 0 {
		t.Errorf("2番目 = %+v, want carol 未読0", convs[1])
	}
	if convs[2].OtherID != "alice" || convs[2].UnreadCount != 2 || convs[2].LastMessage.Body != "a2" {
		t.Errorf("3番目 = %+v, want alice 未読2 最新a2", convs[2])
	}
	if convs[2].Other == nil || convs[2].Other.DisplayName != "Alice" {
		t.Errorf("相手情報 = %+v", convs[2].Other)
	}
}

func TestReply(t *testing.T) {
	t.Parallel()

	t.Run("返信が追加され両方のルームへ配信されること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		m := mustSend(t, env.svc, "alice", "bob", "質問")

		v, err := env.svc.Reply(t.Context(), m.ID, "bob", "回答")
		if err != nil {
			t.Fatalf("Reply()でエラーが発生: %v", err)
		}
		if len(v.Replies) != 1 || v.Replies[0].Body != "回答" || v.Replies[0].Sender.DisplayName != "Bob" {
			t.Errorf("Replies = %+v", v.Replies)
		}

		evs := env.emitter.byType(event.TypeMessageNew)
		// Sendの2件とReplyの2件
		if len(evs) != 4 {
			t.Fatalf("イベント数 = %d, want 4", len(evs))
		}
		if evs[2].Room != "bob" || evs[3].Room != "alice" {
			t.Errorf("配信先 = [%s %s], want [bob alice]", evs[2].Room, evs[3].Room)
		}
	})

	t.Run("管理者は他人のメッセージにも返信できること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		m := mustSend(t, env.svc, "alice", "bob", "質問")

		if _, err := env.svc.Reply(t.Context(), m.ID, "admin", "運営です"); err != nil {
			t.Fatalf("Reply()でエラーが発生: %v", err)
		}
	})

	t.Run("参加者以外はForbidden", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		m := mustSend(t, env.svc, "alice", "bob", "質問")

		_, err := env.svc.Reply(t.Context(), m.ID, "carol", "割り込み")
		wantKind(t, err, apperr.KindForbidden)
	})

	t.Run("存在しないメッセージはNotFound", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		_, err := env.svc.Reply(t.Context(), "missing", "alice", "x")
		wantKind(t, err, apperr.KindNotFound)
	})

	t.Run("本文が空の場合はValidation", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		m := mustSend(t, env.svc, "alice", "bob", "質問")

		_, err := env.svc.Reply(t.Context(), m.ID, "bob", " ")
		wantKind(t, err, apperr.KindValidation)
	})
}

func TestMarkRead(t *testing.T) {
	t.Parallel()

	t.Run("受信者が既読にできること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		m := mustSend(t, env.svc, "alice", "bob", "1")
		mustSend(t, env.svc, "alice", "bob", "2")

		res, err := env.svc.MarkRead(t.Context(), m.ID, "bob")
		if err != nil {
			t.Fatalf("MarkRead()でエラーが発生: %v", err)
		}
		want := MarkResult{Updated: 1, UnreadRemaining: 1}
		if res != want {
			t.Errorf("結果 = %+v, want %+v", res, want)
		}
	})

	t.Run("既読済みでも成功し更新件数は0になること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		m := mustSend(t, env.svc, "alice", "bob", "1")

		if _, err := env.svc.MarkRead(t.Context(), m.ID, "bob"); err != nil {
			t.Fatalf("1回目のMarkRead()でエラーが発生: %v", err)
		}
		res, err := env.svc.MarkRead(t.Context(), m.ID, "bob")
		if err != nil {
			t.Fatalf("2回目のMarkRead()でエラーが発生: %v", err)
		}
		if res.Updated != 0 || res.UnreadRemaining != 0 {
			t.Errorf("結果 = %+v, want 更新0 未読0", res)
		}
	})

	t.Run("送信者はForbidden", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		m := mustSend(t, env.svc, "alice", "bob", "1")

		_, err := env.svc.MarkRead(t.Context(), m.ID, "alice")
		wantKind(t, err, apperr.KindForbidden)
	})

	t.Run("存在しないメッセージはNotFound", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)

		_, err := env.svc.MarkRead(t.Context(), "missing", "bob")
		wantKind(t, err, apperr.KindNotFound)
	})
}

func TestMarkThreadRead(t *testing.T) {
	t.Parallel()

	t.Run("相手とのスレッドだけが既読になること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		mustSend(t, env.svc, "alice", "bob", "1")
		mustSend(t, env.svc, "alice", "bob", "2")
		mustSend(t, env.svc, "carol", "bob", "3")

		res, err := env.svc.MarkThreadRead(t.Context(), "bob", "alice")
		if err != nil {
			t.Fatalf("MarkThreadRead()でエラーが発生: %v", err)
		}
		want := MarkResult{Updated: 2, UnreadRemaining: 1}
		if res != want {
			t.Errorf("結果 = %+v, want %+v", res, want)
		}
	})

	t.Run("一斉送信スレッドを既読にすると通知の未読数も返すこと", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		mustSend(t, env.svc, "alice", "bob", "1")
		if _, err := env.svc.Broadcast(t.Context(), "admin", BroadcastParams{All: true, Body: "x"}); err != nil {
			t.Fatalf("Broadcast()でエラーが発生: %v", err)
		}

		res, err := env.svc.MarkThreadRead(t.Context(), "bob", BroadcastThreadID)
		if err != nil {
			t.Fatalf("MarkThreadRead()でエラーが発生: %v", err)
		}
		want := MarkResult{Updated: 1, UnreadRemaining: 1, NotificationUnreadRemaining: 1}
		if res != want {
			t.Errorf("結果 = %+v, want %+v", res, want)
		}
	})

	t.Run("同時に呼ばれても更新件数の合計が未読数と一致すること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		const unread = 5
		for range unread {
			mustSend(t, env.svc, "alice", "bob", "x")
		}

		const workers = 8
		var wg sync.WaitGroup
		results := make([]MarkResult, workers)
		errs := make([]error, workers)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = env.svc.MarkThreadRead(context.Background(), "bob", "alice")
			}()
		}
		wg.Wait()

		var total int64
		for i := range workers {
			if errs[i] != nil {
				t.Fatalf("MarkThreadRead()でエラーが発生: %v", errs[i])
			}
			total += results[i].Updated
			if results[i].UnreadRemaining != 0 {
				t.Errorf("UnreadRemaining = %d, want 0", results[i].UnreadRemaining)
			}
		}
		if total != unread {
			t.Errorf("更新件数の合計 = %d, want %d", total, unread)
		}
	})
}

func TestMarkAllRead(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	mustSend(t, env.svc, "alice", "bob", "1")
	mustSend(t, env.svc, "carol", "bob", "2")
	mustSend(t, env.svc, "bob", "alice", "3")

	res, err := env.svc.MarkAllRead(t.Context(), "bob")
	if err != nil {
		t.Fatalf("MarkAllRead()でエラーが発生: %v", err)
	}
	if res.Updated != 2 || res.UnreadRemaining != 0 {
		t.Errorf("結果 = %+v, want 更新2 未読0", res)
	}

	n, err := env.svc.UnreadCount(t.Context(), "alice")
	if err != nil {
		t.Fatalf("UnreadCount()でエラーが発生: %v", err)
	}
	if n != 1 {
		t.Errorf("aliceの未読数 = %d, want 1", n)
	}
}

func TestDeleteThread(t *testing.T) {
	t.Parallel()

	t.Run("相手とのメッセージと返信が削除されること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		m := mustSend(t, env.svc, "alice", "bob", "1")
		mustSend(t, env.svc, "bob", "alice", "2")
		mustSend(t, env.svc, "carol", "bob", "残る")
		if _, err := env.svc.Reply(t.Context(), m.ID, "bob", "返信"); err != nil {
			t.Fatalf("Reply()でエラーが発生: %v", err)
		}

		deleted, err := env.svc.DeleteThread(t.Context(), "bob", "alice")
		if err != nil {
			t.Fatalf("DeleteThread()でエラーが発生: %v", err)
		}
		if deleted != 2 {
			t.Errorf("削除件数 = %d, want 2", deleted)
		}

		thread, err := env.svc.GetThread(t.Context(), "alice", "bob")
		if err != nil {
			t.Fatalf("GetThread()でエラーが発生: %v", err)
		}
		if len(thread) != 0 {
			t.Errorf("len(thread) = %d, want 0", len(thread))
		}
		inbox, err := env.svc.Inbox(t.Context(), "bob")
		if err != nil {
			t.Fatalf("Inbox()でエラーが発生: %v", err)
		}
		if len(inbox) != 1 {
			t.Errorf("他のスレッドまで削除された: len(inbox) = %d", len(inbox))
		}
	})

	t.Run("管理者が削除すると相手の一斉送信スレッドからも消えること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		if _, err := env.svc.Broadcast(t.Context(), "admin", BroadcastParams{All: true, Body: "x"}); err != nil {
			t.Fatalf("Broadcast()でエラーが発生: %v", err)
		}
		mustSend(t, env.svc, "alice", "admin", "問い合わせ")

		deleted, err := env.svc.DeleteThread(t.Context(), "admin", "alice")
		if err != nil {
			t.Fatalf("DeleteThread()でエラーが発生: %v", err)
		}
		if deleted != 2 {
			t.Errorf("削除件数 = %d, want 2", deleted)
		}

		thread, err := env.svc.GetThread(t.Context(), "alice", BroadcastThreadID)
		if err != nil {
			t.Fatalf("GetThread()でエラーが発生: %v", err)
		}
		if len(thread) != 0 {
			t.Errorf("aliceの一斉送信スレッド = %d件, want 0", len(thread))
		}
		thread, err = env.svc.GetThread(t.Context(), "bob", BroadcastThreadID)
		if err != nil {
			t.Fatalf("GetThread()でエラーが発生: %v", err)
		}
		if len(thread) != 1 {
			t.Errorf("bobの一斉送信まで削除された")
		}
	})

	t.Run("一斉送信スレッドは自分宛ての分だけ削除されること", func(t *testing.T) {
		t.Parallel()
		env := setupTestEnv(t)
		if _, err := env.svc.Broadcast(t.Context(), "admin", BroadcastParams{All: true, Body: "x"}); err != nil {
			t.Fatalf("Broadcast()でエラーが発生: %v", err)
		}

		deleted, err := env.svc.DeleteThread(t.Context(), "bob", BroadcastThreadID)
		if err != nil {
			t.Fatalf("DeleteThread()でエラーが発生: %v", err)
		}
		if deleted != 1 {
			t.Errorf("削除件数 = %d, want 1", deleted)
		}

		thread, err := env.svc.GetThread(t.Context(), "alice", BroadcastThreadID)
		if err != nil {
			t.Fatalf("GetThread()でエラーが発生: %v", err)
		}
		if len(thread) != 1 {
			t.Errorf("aliceの一斉送信まで削除された")
		}
	})
}

func TestSendMarkReadRoundTrip(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	sent := mustSend(t, env.svc, "alice", "bob", "hello")

	thread, err := env.svc.GetThread(t.Context(), "bob", "alice")
	if err != nil {
		t.Fatalf("GetThread()でエラーが発生: %v", err)
	}
	if len(thread) != 1 || thread[0].Body != "hello" || thread[0].IsRead {
		t.Fatalf("スレッド = %+v, want 未読のhello 1件", thread)
	}

	before, err := env.svc.UnreadCount(t.Context(), "bob")
	if err != nil {
		t.Fatalf("UnreadCount()でエラーが発生: %v", err)
	}
	if _, err := env.svc.MarkRead(t.Context(), sent.ID, "bob"); err != nil {
		t.Fatalf("MarkRead()でエラーが発生: %v", err)
	}
	after, err := env.svc.UnreadCount(t.Context(), "bob")
	if err != nil {
		t.Fatalf("UnreadCount()でエラーが発生: %v", err)
	}
	if before-after != 1 {
		t.Errorf("未読数の変化 = %d → %d, want 1減少", before, after)
	}

	thread, err = env.svc.GetThread(t.Context(), "bob", "alice")
	if err != nil {
		t.Fatalf("GetThread()でエラーが発生: %v", err)
	}
	if !thread[0].IsRead {
		t.Error("既読になっていない")
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	t.Parallel()
	env := setupTestEnv(t)

	mustSend(t, env.svc, "alice", "bob", "1")
	mustSend(t, env.svc, "carol", "bob", "2")

	ops := []struct {
		name string
		fn   func() (MarkResult, error)
	}{
		{name: "MarkThreadRead", fn: func() (MarkResult, error) { return env.svc.MarkThreadRead(t.Context(), "bob", "alice") }},
		{name: "MarkAllRead", fn: func() (MarkResult, error) { return env.svc.MarkAllRead(t.Context(), "bob") }},
	}
	for _, op := range ops {
		first, err := op.fn()
		if err != nil {
			t.Fatalf("1回目の%s()でエラーが発生: %v", op.name, err)
		}
		second, err := op.fn()
		if err != nil {
			t.Fatalf("2回目の%s()でエラーが発生: %v", op.name, err)
		}
		if second.Updated != 0 || second.UnreadRemaining != first.UnreadRemaining {
			t.Errorf("%s: 1回目 = %+v, 2回目 = %+v", op.name, first, second)
		}
	}
}
