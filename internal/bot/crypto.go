// ABOUTME: End-to-end encryption setup for the registration bot
// ABOUTME: Wires a mautrix cryptohelper backed by SQLite, with optional recovery key verification

package bot

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// Crypto owns the bot's encryption state.
type Crypto struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// EnableCrypto turns on E2EE for the bot's client. Keys live in a per-user
// SQLite database under dataDir. A stale database left by another device ID
// is reset before the helper opens it.
func EnableCrypto(ctx context.Context, b *Bot, recoveryKey, dataDir string, logger *slog.Logger) (*Crypto, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "crypto")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	client := b.Matrix()
	userID := b.UserID().String()
	dbPath := cryptoDBPath(dataDir, userID)
	logger.Info("setting up encryption", "db", dbPath)

	if err := resetOnDeviceChange(dbPath, client.DeviceID.String(), logger); err != nil {
		return nil, err
	}

	helper, err := newCryptoHelper(ctx, client, storeKey(userID), dbPath)
	if err != nil {
		return nil, err
	}
	client.Crypto = helper

	c := &Crypto{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("encryption enabled without cross-signing")
		return c, nil
	}
	if err := helper.Machine().VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		// Encrypted rooms still work, other clients just show the device as unverified.
		logger.Warn("recovery key verification failed", "error", err)
		return c, nil
	}
	logger.Info("encryption enabled with cross-signing verification")
	return c, nil
}

// Close releases the crypto store.
func (c *Crypto) Close() error {
	if c == nil || c.helper == nil {
		return nil
	}
	return c.helper.Close()
}

func newCryptoHelper(ctx context.Context, client *mautrix.Client, key []byte, dbPath string) (*cryptohelper.CryptoHelper, error) {
	helper, err := cryptohelper.NewCryptoHelper(client, key, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	return helper, nil
}

func cryptoDBPath(dataDir, userID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("registration-bot-crypto-%s.db", slugify(userID)))
}

// resetOnDeviceChange removes the crypto database when it belongs to a
// different device. A password login without a fixed device ID creates a new
// device each time.
func resetOnDeviceChange(dbPath, deviceID string, logger *slog.Logger) error {
	mismatch, err := deviceMismatch(dbPath, deviceID)
	if err != nil {
		logger.Debug("could not read stored device ID", "error", err)
		return nil
	}
	if !mismatch {
		return nil
	}

	logger.Warn("device ID changed, resetting crypto database", "device_id", deviceID)
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing old crypto database: %w", err)
	}
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")
	return nil
}

// deviceMismatch reports whether dbPath exists and holds an account for
// another device ID.
func deviceMismatch(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != deviceID, nil
}

// slugify turns a Matrix user ID into a file name fragment.
// @bot:example.org becomes bot_example.org.
func slugify(userID string) string {
	userID = strings.TrimPrefix(userID, "@")
	var sb strings.Builder
	for _, c := range userID {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			sb.WriteRune(c)
		case c == ':':
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// storeKey derives the pickle key for the crypto store from the user ID.
func storeKey(userID string) []byte {
	h := sha256.Sum256([]byte("registration-bot-crypto:" + userID))
	return h[:]
}
