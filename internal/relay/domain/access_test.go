package domain

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCheckAdmissionIssuesChallengeForUnknownIdentity(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0).UTC()
	kv := newFakeKV(fixedClock(now))
	gateway := newFakeGateway()
	svc := newTestService(t, kv, gateway, fixedClock(now))

	decision, err := svc.CheckAdmission(context.Background(), "555", now)
	if err != nil {
		t.Fatalf("check admission: %v", err)
	}
	if decision != DecisionBlocked {
		t.Fatalf("decision = %v, want blocked", decision)
	}
	if got := kv.value(t, "pending:555"); got != "1000" {
		t.Fatalf("pending value = %q, want %q", got, "1000")
	}
	if got := gateway.sentCount(); got != 1 {
		t.Fatalf("sent %d messages, want 1", got)
	}

	challenge := gateway.sent[0]
	if challenge.ChatID != 555 {
		t.Fatalf("challenge chat = %d, want 555", challenge.ChatID)
	}
	// Deadline is now+30s rendered as an absolute UTC clock.
	if !strings.Contains(challenge.Text, "00:17:10 (UTC)") {
		t.Fatalf("challenge text missing deadline: %q", challenge.Text)
	}
	if challenge.ReplyMarkup == nil || len(challenge.ReplyMarkup.InlineKeyboard) != 1 {
		t.Fatalf("challenge keyboard missing: %+v", challenge.ReplyMarkup)
	}
	button := challenge.ReplyMarkup.InlineKeyboard[0][0]
	if button.CallbackData != verifyCallbackData {
		t.Fatalf("button callback = %q, want %q", button.CallbackData, verifyCallbackData)
	}
}

func TestCheckAdmissionSilentlyBlocksWithinChallengeWindow(t *testing.T) {
	t.Parallel()

	issued := time.Unix(1000, 0).UTC()
	kv := newFakeKV(fixedClock(issued))
	gateway := newFakeGateway()
	svc := newTestService(t, kv, gateway, fixedClock(issued))
	if err := kv.Put(context.Background(), "pending:555", "1000", 0); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	decision, err := svc.CheckAdmission(context.Background(), "555", issued.Add(20*time.Second))
	if err != nil {
		t.Fatalf("check admission: %v", err)
	}
	if decision != DecisionBlocked {
		t.Fatalf("decision = %v, want blocked", decision)
	}
	if got := gateway.sentCount(); got != 0 {
		t.Fatalf("sent %d messages, want 0 (no re-prompt)", got)
	}
	if got := kv.value(t, "pending:555"); got != "1000" {
		t.Fatalf("pending mutated to %q", got)
	}
}

func TestCheckAdmissionTimeoutTransitionsToBan(t *testing.T) {
	t.Parallel()

	now := time.Unix(2050, 0).UTC()
	kv := newFakeKV(fixedClock(now))
	gateway := newFakeGateway()
	svc := newTestService(t, kv, gateway, fixedClock(now))
	if err := kv.Put(context.Background(), "pending:777", "2000", 0); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	decision, err := svc.CheckAdmission(context.Background(), "777", now)
	if err != nil {
		t.Fatalf("check admission: %v", err)
	}
	if decision != DecisionBlocked {
		t.Fatalf("decision = %v, want blocked", decision)
	}
	// Unban time is computed from the current now, not the issuance time.
	if got := kv.value(t, "blacklist:777"); got != "88450" {
		t.Fatalf("blacklist value = %q, want %q", got, "88450")
	}
	if kv.has("pending:777") {
		t.Fatal("pending row should be deleted on timeout")
	}
	if got := gateway.sentCount(); got != 1 {
		t.Fatalf("sent %d messages, want 1 timeout notice", got)
	}
	if !strings.Contains(gateway.sent[0].Text, "Timeout") {
		t.Fatalf("expected timeout notice, got %q", gateway.sent[0].Text)
	}
}

func TestCheckAdmissionBannedIdentityStaysBlocked(t *testing.T) {
	t.Parallel()

	now := time.Unix(5000, 0).UTC()
	kv := newFakeKV(fixedClock(now))
	gateway := newFakeGateway()
	svc := newTestService(t, kv, gateway, fixedClock(now))
	ctx := context.Background()
	if err := kv.Put(ctx, "blacklist:555", "88400", 0); err != nil {
		t.Fatalf("seed blacklist: %v", err)
	}
	if err := kv.Put(ctx, "pending:555", "4990", 0); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	decision, err := svc.CheckAdmission(ctx, "555", now)
	if err != nil {
		t.Fatalf("check admission: %v", err)
	}
	if decision != DecisionBlocked {
		t.Fatalf("decision = %v, want blocked", decision)
	}
	// The ban wins; pending state is left alone.
	if got := kv.value(t, "pending:555"); got != "4990" {
		t.Fatalf("pending mutated to %q", got)
	}
	if got := gateway.sentCount(); got != 1 {
		t.Fatalf("sent %d messages, want 1 ban notice", got)
	}
	if !strings.Contains(gateway.sent[0].Text, "1970-01-02 00:33:20 UTC") {
		t.Fatalf("ban notice missing unban time: %q", gateway.sent[0].Text)
	}
}

func TestCheckAdmissionAdmitsVerifiedIdentity(t *testing.T) {
	t.Parallel()

	now := time.Unix(1020, 0).UTC()
	kv := newFakeKV(fixedClock(now))
	gateway := newFakeGateway()
	svc := newTestService(t, kv, gateway, fixedClock(now))
	if err := kv.Put(context.Background(), "verified:555", "true", time.Hour); err != nil {
		t.Fatalf("seed verified: %v", err)
	}

	decision, err := svc.CheckAdmission(context.Background(), "555", now)
	if err != nil {
		t.Fatalf("check admission: %v", err)
	}
	if decision != DecisionAdmit {
		t.Fatalf("decision = %v, want admit", decision)
	}
	if got := gateway.sentCount(); got != 0 {
		t.Fatalf("sent %d messages, want 0", got)
	}
}

func TestResolveChallengeWithinDeadlineVerifies(t *testing.T) {
	t.Parallel()

	now := time.Unix(1015, 0).UTC()
	kv := newFakeKV(fixedClock(now))
	gateway := newFakeGateway()
	svc := newTestService(t, kv, gateway, fixedClock(now))
	if err := kv.Put(context.Background(), "pending:555", "1000", 0); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	press := ChallengePress{Identity: "555", CallbackQueryID: "cb-1", ChatID: 555, MessageID: 9}
	if err := svc.ResolveChallenge(context.Background(), press, now); err != nil {
		t.Fatalf("resolve challenge: %v", err)
	}

	if got := kv.value(t, "verified:555"); got != "true" {
		t.Fatalf("verified value = %q, want true", got)
	}
	if got := kv.expiry(t, "verified:555"); got != now.Add(time.Hour).Unix() {
		t.Fatalf("verified expiry = %d, want %d", got, now.Add(time.Hour).Unix())
	}
	if kv.has("pending:555") {
		t.Fatal("pending row should be deleted on success")
	}
	if len(gateway.answers) != 1 || gateway.answers[0].Text != verifiedCallbackText {
		t.Fatalf("unexpected callback answers: %+v", gateway.answers)
	}
	if len(gateway.edits) != 1 || gateway.edits[0].MessageID != 9 || gateway.edits[0].Text != verifiedEditText {
		t.Fatalf("unexpected challenge edits: %+v", gateway.edits)
	}
}

func TestResolveChallengeExactDeadlinePasses(t *testing.T) {
	t.Parallel()

	now := time.Unix(1030, 0).UTC()
	kv := newFakeKV(fixedClock(now))
	gateway := newFakeGateway()
	svc := newTestService(t, kv, gateway, fixedClock(now))
	if err := kv.Put(context.Background(), "pending:555", "1000", 0); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	press := ChallengePress{Identity: "555", CallbackQueryID: "cb-1", ChatID: 555, MessageID: 9}
	if err := svc.ResolveChallenge(context.Background(), press, now); err != nil {
		t.Fatalf("resolve challenge: %v", err)
	}
	if !kv.has("verified:555") {
		t.Fatal("elapsed == 30 should still verify")
	}
	if kv.has("blacklist:555") {
		t.Fatal("elapsed == 30 must not ban")
	}
}

func TestResolveChallengeAfterDeadlineBans(t *testing.T) {
	t.Parallel()

	now := time.Unix(1031, 0).UTC()
	kv := newFakeKV(fixedClock(now))
	gateway := newFakeGateway()
	svc := newTestService(t, kv, gateway, fixedClock(now))
	if err := kv.Put(context.Background(), "pending:555", "1000", 0); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	press := ChallengePress{Identity: "555", CallbackQueryID: "cb-1", ChatID: 555, MessageID: 9}
	if err := svc.ResolveChallenge(context.Background(), press, now); err != nil {
		t.Fatalf("resolve challenge: %v", err)
	}

	wantUnban := now.Unix() + 86400
	if got := kv.value(t, "blacklist:555"); got != "87431" {
		t.Fatalf("blacklist value = %q, want %d", got, wantUnban)
	}
	if kv.has("pending:555") {
		t.Fatal("pending row should be deleted on timeout")
	}
	if kv.has("verified:555") {
		t.Fatal("timed-out press must not verify")
	}
	if len(gateway.answers) != 1 || !gateway.answers[0].ShowAlert {
		t.Fatalf("expected one alert answer, got %+v", gateway.answers)
	}
	if len(gateway.edits) != 1 || !strings.Contains(gateway.edits[0].Text, "Timeout") {
		t.Fatalf("expected timeout edit, got %+v", gateway.edits)
	}
}

func TestResolveChallengeTwiceAnswersSessionExpired(t *testing.T) {
	t.Parallel()

	now := time.Unix(1015, 0).UTC()
	kv := newFakeKV(fixedClock(now))
	gateway := newFakeGateway()
	svc := newTestService(t, kv, gateway, fixedClock(now))
	if err := kv.Put(context.Background(), "pending:555", "1000", 0); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	press := ChallengePress{Identity: "555", CallbackQueryID: "cb-1", ChatID: 555, MessageID: 9}
	if err := svc.ResolveChallenge(context.Background(), press, now); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	press.CallbackQueryID = "cb-2"
	if err := svc.ResolveChallenge(context.Background(), press, now.Add(time.Second)); err != nil {
		t.Fatalf("second resolve: %v", err)
	}

	if kv.has("blacklist:555") {
		t.Fatal("second resolve must not ban")
	}
	if got := kv.value(t, "verified:555"); got != "true" {
		t.Fatalf("verified row lost: %q", got)
	}
	if len(gateway.answers) != 2 {
		t.Fatalf("answers = %d, want 2", len(gateway.answers))
	}
	if gateway.answers[1].Text != sessionExpiredText {
		t.Fatalf("second answer = %q, want session expired", gateway.answers[1].Text)
	}
	// The challenge message is only edited by the first, successful resolve.
	if len(gateway.edits) != 1 {
		t.Fatalf("edits = %d, want 1", len(gateway.edits))
	}
}

func TestResolveChallengeWhileBannedAnswersBanNotice(t *testing.T) {
	t.Parallel()

	now := time.Unix(5000, 0).UTC()
	kv := newFakeKV(fixedClock(now))
	gateway := newFakeGateway()
	svc := newTestService(t, kv, gateway, fixedClock(now))
	ctx := context.Background()
	if err := kv.Put(ctx, "blacklist:555", "88400", 0); err != nil {
		t.Fatalf("seed blacklist: %v", err)
	}
	if err := kv.Put(ctx, "pending:555", "4990", 0); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	press := ChallengePress{Identity: "555", CallbackQueryID: "cb-1", ChatID: 555, MessageID: 9}
	if err := svc.ResolveChallenge(ctx, press, now); err != nil {
		t.Fatalf("resolve challenge: %v", err)
	}

	if len(gateway.answers) != 1 || !strings.Contains(gateway.answers[0].Text, "Banned until") {
		t.Fatalf("expected ban answer, got %+v", gateway.answers)
	}
	if got := kv.value(t, "pending:555"); got != "4990" {
		t.Fatalf("pending mutated to %q", got)
	}
	if len(gateway.edits) != 0 {
		t.Fatalf("banned press must not edit the challenge message: %+v", gateway.edits)
	}
}
