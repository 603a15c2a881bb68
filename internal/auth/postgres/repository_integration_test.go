// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keysmith Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/keysmith/keysmith/internal/auth"
	"github.com/keysmith/keysmith/internal/auth/postgres"
)

func newAccount(email string) *auth.Account {
	account, err := auth.NewAccount(email, "$2a$04$abcdefghijklmnopqrstuu5yQ8i3L9Kz0oGdQf1o7fT2z9FvQ1mHy")
	Expect(err).NotTo(HaveOccurred())
	return account
}

func newSession(accountID ulid.ULID, expiresAt *time.Time) *auth.Session {
	token, err := auth.GenerateSessionToken()
	Expect(err).NotTo(HaveOccurred())
	return &auth.Session{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: auth.HashSessionToken(token),
		CreatedAt: time.Now().Add(-time.Hour).UTC(),
		ExpiresAt: expiresAt,
	}
}

var _ = Describe("AccountRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.AccountRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		repo = postgres.NewAccountRepository(testPool)
	})

	It("round-trips an account", func() {
		account := newAccount("alice@example.com")
		Expect(repo.Create(ctx, account)).To(Succeed())

		got, err := repo.GetByID(ctx, account.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Email).To(Equal("alice@example.com"))
		Expect(got.PasswordHash).To(Equal(account.PasswordHash))
		Expect(got.CreatedAt).To(BeTemporally("~", account.CreatedAt, time.Millisecond))
	})

	It("finds accounts by email regardless of case", func() {
		account := newAccount("alice@example.com")
		Expect(repo.Create(ctx, account)).To(Succeed())

		got, err := repo.GetByEmail(ctx, "ALICE@Example.COM")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(account.ID))
	})

	It("rejects a second account with the same email in different case", func() {
		Expect(repo.Create(ctx, newAccount("alice@example.com"))).To(Succeed())

		err := repo.Create(ctx, &auth.Account{
			ID:           ulid.Make(),
			Email:        "Alice@Example.com",
			PasswordHash: "hash",
			CreatedAt:    time.Now().UTC(),
		})
		Expect(err).To(MatchError(auth.ErrDuplicateEmail))
	})

	It("lets exactly one of many concurrent registrations win", func() {
		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			dupes     int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				err := repo.Create(ctx, newAccount("race@example.com"))
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					succeeded++
				} else {
					Expect(err).To(MatchError(auth.ErrDuplicateEmail))
					dupes++
				}
			}()
		}
		wg.Wait()
		Expect(succeeded).To(Equal(1))
		Expect(dupes).To(Equal(workers - 1))
	})

	It("reports missing accounts as not found", func() {
		_, err := repo.GetByID(ctx, ulid.Make())
		Expect(err).To(MatchError(auth.ErrNotFound))

		_, err = repo.GetByEmail(ctx, "nobody@example.com")
		Expect(err).To(MatchError(auth.ErrNotFound))

		Expect(repo.Delete(ctx, ulid.Make())).To(MatchError(auth.ErrNotFound))
	})

	It("cascades account deletion to sessions", func() {
		account := newAccount("alice@example.com")
		Expect(repo.Create(ctx, account)).To(Succeed())

		sessions := postgres.NewSessionRepository(testPool)
		session := newSession(account.ID, nil)
		Expect(sessions.Create(ctx, session)).To(Succeed())

		Expect(repo.Delete(ctx, account.ID)).To(Succeed())

		_, err := sessions.GetByTokenHash(ctx, session.TokenHash)
		Expect(err).To(MatchError(auth.ErrNotFound))
	})
})

var _ = Describe("SessionRepository", func() {
	var (
		ctx      context.Context
		account  *auth.Account
		sessions *postgres.SessionRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		account = newAccount("alice@example.com")
		Expect(postgres.NewAccountRepository(testPool).Create(ctx, account)).To(Succeed())
		sessions = postgres.NewSessionRepository(testPool)
	})

	It("round-trips a session with and without expiry", func() {
		expiry := time.Now().Add(time.Hour).UTC()
		withExpiry := newSession(account.ID, &expiry)
		noExpiry := newSession(account.ID, nil)
		Expect(sessions.Create(ctx, withExpiry)).To(Succeed())
		Expect(sessions.Create(ctx, noExpiry)).To(Succeed())

		got, err := sessions.GetByTokenHash(ctx, withExpiry.TokenHash)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.AccountID).To(Equal(account.ID))
		Expect(got.ExpiresAt).NotTo(BeNil())
		Expect(*got.ExpiresAt).To(BeTemporally("~", expiry, time.Millisecond))

		got, err = sessions.GetByTokenHash(ctx, noExpiry.TokenHash)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ExpiresAt).To(BeNil())
	})

	It("rejects a reused token hash", func() {
		first := newSession(account.ID, nil)
		Expect(sessions.Create(ctx, first)).To(Succeed())

		dup := newSession(account.ID, nil)
		dup.TokenHash = first.TokenHash
		Expect(sessions.Create(ctx, dup)).To(MatchError(auth.ErrDuplicateToken))
	})

	It("deletes by token hash once", func() {
		session := newSession(account.ID, nil)
		Expect(sessions.Create(ctx, session)).To(Succeed())

		Expect(sessions.DeleteByTokenHash(ctx, session.TokenHash)).To(Succeed())
		Expect(sessions.DeleteByTokenHash(ctx, session.TokenHash)).To(MatchError(auth.ErrNotFound))
	})

	It("sweeps only expired sessions", func() {
		now := time.Now().UTC()
		past := now.Add(-time.Minute)
		future := now.Add(time.Hour)

		expired := newSession(account.ID, &past)
		live := newSession(account.ID, &future)
		forever := newSession(account.ID, nil)
		for _, s := range []*auth.Session{expired, live, forever} {
			Expect(sessions.Create(ctx, s)).To(Succeed())
		}

		n, err := sessions.DeleteExpired(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		_, err = sessions.GetByTokenHash(ctx, expired.TokenHash)
		Expect(err).To(MatchError(auth.ErrNotFound))
		_, err = sessions.GetByTokenHash(ctx, live.TokenHash)
		Expect(err).NotTo(HaveOccurred())
		_, err = sessions.GetByTokenHash(ctx, forever.TokenHash)
		Expect(err).NotTo(HaveOccurred())
	})
})
