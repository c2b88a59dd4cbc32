package updater

import (
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	update "github.com/inconshreveable/go-update"

	"github.com/breeze-rmm/appupdate/internal/logging"
)

var log = logging.L("updater")

// Config holds installer configuration
type Config struct {
	// TargetPath is the installed file that an update replaces.
	TargetPath string
	// BackupPath keeps the previous file after a successful install.
	// Defaults to TargetPath + ".backup".
	BackupPath string
}

// Installer swaps a staged release into place
type Installer struct {
	config *Config
}

// New creates a new Installer
func New(cfg *Config) *Installer {
	if cfg.BackupPath == "" && cfg.TargetPath != "" {
		cfg.BackupPath = cfg.TargetPath + ".backup"
	}
	return &Installer{config: cfg}
}

// TargetPath returns the file the installer replaces.
func (i *Installer) TargetPath() string {
	return i.config.TargetPath
}

// ChecksumError reports a file whose SHA256 differs from the expected value.
type ChecksumError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Install replaces the target with the staged file. The staged bytes are
// verified against checksum (hex SHA256) before anything on disk changes.
// onPercent, if set, receives 0..100 as the staged file is read.
func (i *Installer) Install(stagedPath, checksum string, onPercent func(int)) error {
	target := i.config.TargetPath
	if target == "" {
		return fmt.Errorf("no install target configured")
	}
	log.Info("installing update", "staged", stagedPath, "target", target)

	sum, err := hex.DecodeString(strings.TrimSpace(checksum))
	if err != nil {
		return fmt.Errorf("invalid checksum %q: %w", checksum, err)
	}

	f, err := os.Open(stagedPath)
	if err != nil {
		return fmt.Errorf("failed to open staged file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	mode := os.FileMode(0755)
	if targetInfo, err := os.Stat(target); err == nil {
		mode = targetInfo.Mode().Perm()
	}

	opts := update.Options{
		TargetPath:  target,
		TargetMode:  mode,
		Checksum:    sum,
		Hash:        crypto.SHA256,
		OldSavePath: i.config.BackupPath,
	}

	reader := &progressReader{r: f, total: info.Size(), onPercent: onPercent}
	if err := update.Apply(reader, opts); err != nil {
		if rbErr := update.RollbackError(err); rbErr != nil {
			log.Error("rollback also failed after install error", "installError", err, "rollbackError", rbErr)
			return fmt.Errorf("failed to install update: %w (rollback also failed: %v)", err, rbErr)
		}
		return fmt.Errorf("failed to install update: %w", err)
	}
	reader.finish()

	log.Info("update installed", "target", target, "backup", i.config.BackupPath)
	return nil
}

// Rollback restores the backup over the target
func (i *Installer) Rollback() error {
	log.Info("rolling back to previous version")

	if _, err := os.Stat(i.config.BackupPath); os.IsNotExist(err) {
		return fmt.Errorf("no backup found at %s", i.config.BackupPath)
	}

	src, err := os.Open(i.config.BackupPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(i.config.TargetPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(i.config.BackupPath)
		if err != nil {
			return err
		}
		if err := os.Chmod(i.config.TargetPath, info.Mode().Perm()); err != nil {
			return err
		}
	}

	return nil
}

// FileChecksum returns the hex SHA256 of the file at path.
func FileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyChecksum verifies the SHA256 checksum of a file
func VerifyChecksum(path, expectedChecksum string) error {
	actual, err := FileChecksum(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, strings.TrimSpace(expectedChecksum)) {
		return &ChecksumError{Path: path, Expected: expectedChecksum, Actual: actual}
	}
	return nil
}

// progressReader reports read progress as whole percentages, each at most once.
type progressReader struct {
	r         io.Reader
	total     int64
	read      int64
	last      int
	onPercent func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		p.report(int(p.read * 100 / p.total))
	}
	return n, err
}

func (p *progressReader) finish() {
	p.report(100)
}

func (p *progressReader) report(percent int) {
	if p.onPercent == nil || percent <= p.last {
		return
	}
	if percent > 100 {
		percent = 100
	}
	p.last = percent
	p.onPercent(percent)
}
