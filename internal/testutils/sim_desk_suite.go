package testutils

import (
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// SimDeskSuite provides a testify suite with a fresh simulated desk per test.
//
// Custom desk usage:
//
//	type FallbackSuite struct {
//	    testutils.SimDeskSuite
//	}
//
//	func (s *FallbackSuite) SetupTest() {
//	    s.WithDesk().ReferenceInput = false
//	    s.SimDeskSuite.SetupTest() // Call parent last to apply configuration
//	}
type SimDeskSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Desk *SimDesk

	options *SimDeskOptions
}

// SetupSuite initializes the helper and logger once per suite.
func (s *SimDeskSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest builds the desk from the configured (or default) options.
func (s *SimDeskSuite) SetupTest() {
	opts := s.WithDesk()
	s.Desk = NewSimDesk(*opts)
	s.Logger.WithField("desk", opts.Name).Debug("Simulated desk ready")
}

// TearDownTest drops any open link and resets the desk configuration.
func (s *SimDeskSuite) TearDownTest() {
	if s.Desk != nil {
		s.Desk.Drop()
	}
	s.Desk = nil
	s.options = nil
}

// WithDesk returns the desk options for configuration before SetupTest runs.
func (s *SimDeskSuite) WithDesk() *SimDeskOptions {
	if s.options == nil {
		opts := DefaultSimDeskOptions()
		s.options = &opts
	}
	return s.options
}
