package main

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/deskctl/internal/connection"
	"github.com/srg/deskctl/internal/motion"
	"github.com/srg/deskctl/internal/testutils"
	"github.com/srg/deskctl/pkg/config"
	"github.com/srg/deskctl/pkg/desk"
)

// CommandTestSuite runs commands against a simulated desk.
// All cmd/deskctl test suites should embed this instead of SimDeskSuite.
type CommandTestSuite struct {
	testutils.SimDeskSuite

	ConfigPath string

	originalDeskFactory func(*config.Config, ...desk.Option) (*desk.Desk, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.SimDeskSuite.SetupTest()

	s.ConfigPath = filepath.Join(s.T().TempDir(), "config.yaml")
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte("log_level: warn\n"), 0o600))

	s.originalDeskFactory = deskFactory
	deskFactory = func(cfg *config.Config, opts ...desk.Option) (*desk.Desk, error) {
		opts = append(opts,
			desk.WithSelector(s.Desk),
			desk.WithDialer(s.Desk),
			desk.WithConnectionOptions(connection.Options{
				Attempts:         3,
				SettleDelay:      5 * time.Millisecond,
				RetryDelay:       20 * time.Millisecond,
				ReadTimeout:      100 * time.Millisecond,
				HandshakeTimeout: 20 * time.Millisecond,
			}),
			desk.WithMotionParams(fastMotionParams()),
		)
		return desk.New(cfg, opts...)
	}

	// Flag values outlive a single Execute.
	s.Require().NoError(rootCmd.PersistentFlags().Set("address", ""))
	s.Require().NoError(rootCmd.PersistentFlags().Set("log-level", ""))
	moveMode = ""
	scanAll = false
	scanFormat = "table"
	scanDuration = 0
	monitorDuration = 0
}

func (s *CommandTestSuite) TearDownTest() {
	deskFactory = s.originalDeskFactory
	s.SimDeskSuite.TearDownTest()
}

func fastMotionParams() motion.Params {
	p := motion.DefaultParams()
	p.ReferenceSettle = 2 * time.Millisecond
	p.ReferencePeriod = 10 * time.Millisecond
	p.WakeDelay = 2 * time.Millisecond
	p.UpDownPeriod = 5 * time.Millisecond
	return p
}

// syncBuffer is a bytes.Buffer safe for the concurrent writers of a command run.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(syncBuffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// Deskctl executes the root command with the suite config file.
func (s *CommandTestSuite) Deskctl(args ...string) (string, error) {
	return s.ExecuteCommand(rootCmd, append(args, "--config", s.ConfigPath)...)
}
