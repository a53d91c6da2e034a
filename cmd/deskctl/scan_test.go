package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/protocol"
	"github.com/srg/deskctl/internal/testutils"
	"github.com/srg/deskctl/scanner"
	"github.com/stretchr/testify/suite"
)

type ScanTestSuite struct {
	CommandTestSuite

	originalScannerFactory func(*logrus.Logger) (*scanner.Scanner, error)
}

func (s *ScanTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()

	s.originalScannerFactory = scannerFactory
	scannerFactory = func(logger *logrus.Logger) (*scanner.Scanner, error) {
		return scanner.NewScanner(&testutils.StaticScanner{Advertisements: []device.Advertisement{
			testutils.StaticAdvertisement{Name: "Headphones", Address: "11:22:33:44:55:66", Signal: -67},
			testutils.StaticAdvertisement{
				Name:       "Desk 4711",
				Address:    "AA:BB:CC:DD:EE:FF",
				Signal:     -45,
				ServiceIDs: []string{protocol.ControlServiceUUID},
			},
			testutils.StaticAdvertisement{Address: "99:88:77:66:55:44", Signal: -80, ServiceIDs: []string{protocol.ControlServiceUUID}},
		}}, logger)
	}
}

func (s *ScanTestSuite) TearDownTest() {
	scannerFactory = s.originalScannerFactory
	s.CommandTestSuite.TearDownTest()
}

func (s *ScanTestSuite) TestScanListsDesksOnly() {
	// GOAL: Verify the default scan keeps only desks by name or control service
	//
	// TEST SCENARIO: headphones + named desk + unnamed desk → both desks listed
	out, err := s.Deskctl("scan", "--duration", "50ms")
	s.Require().NoError(err)

	s.Contains(out, "NAME")
	s.Contains(out, "Desk 4711")
	s.Contains(out, "AA:BB:CC:DD:EE:FF")
	s.Contains(out, "(unnamed)")
	s.NotContains(out, "Headphones")
}

func (s *ScanTestSuite) TestScanAll() {
	out, err := s.Deskctl("scan", "--duration", "50ms", "--all")
	s.Require().NoError(err)

	s.Contains(out, "Headphones")
	s.Contains(out, "Desk 4711")
}

func (s *ScanTestSuite) TestScanAddressOverride() {
	out, err := s.Deskctl("scan", "--duration", "50ms", "--address", "99:88:77:66:55:44")
	s.Require().NoError(err)

	s.Contains(out, "99:88:77:66:55:44")
	s.NotContains(out, "Desk 4711")
}

func (s *ScanTestSuite) TestScanJSON() {
	out, err := s.Deskctl("scan", "--duration", "50ms", "--format", "json")
	s.Require().NoError(err)

	start := strings.Index(out, "[\n")
	s.Require().GreaterOrEqual(start, 0, "json output expected, got %q", out)

	var devices []deviceJSON
	s.Require().NoError(json.Unmarshal([]byte(out[start:]), &devices))
	s.Require().Len(devices, 2)
	s.Equal("Desk 4711", devices[0].Name)
	s.Equal(-45, devices[0].RSSI)
}

func (s *ScanTestSuite) TestScanRejectsFormat() {
	_, err := s.Deskctl("scan", "--format", "xml")
	s.ErrorContains(err, "invalid format")
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}
