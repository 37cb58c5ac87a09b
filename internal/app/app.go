// Package app runs one pcapfwd invocation: list devices, capture to a file or
// replay a file onto a device.
package app

import (
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/layers"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	pcap "github.com/packetcap/go-pcapfwd"
	"github.com/packetcap/go-pcapfwd/internal/config"
	"github.com/packetcap/go-pcapfwd/internal/waveform"
	"github.com/packetcap/go-pcapfwd/interrupt"
	"github.com/packetcap/go-pcapfwd/pipeline"
	"github.com/packetcap/go-pcapfwd/savefile"
)

// Device what a run needs from an open handle; *pcap.Handle implements it
type Device interface {
	pipeline.Source
	Inject(pkt pcap.Packet) error
	LinkType() layers.LinkType
	Snaplen() int32
	Close()
}

type App struct {
	// Out receives the report lines, os.Stdout when nil.
	Out io.Writer
	// Open opens the capture device, pcap.Open by default.
	Open func(cfg pcap.Config) (Device, error)
	// ListDevices enumerates interfaces, pcap.FindAllDevs by default.
	ListDevices func() ([]pcap.Device, error)
	// Cancel stops a running pipeline. When nil, SIGINT and SIGTERM do.
	Cancel pipeline.Cancel
}

// New an App wired to the real devices and OS signals
func New() *App {
	return &App{
		Out:         os.Stdout,
		Open:        openHandle,
		ListDevices: pcap.FindAllDevs,
	}
}

func openHandle(cfg pcap.Config) (Device, error) {
	h, err := pcap.Open(cfg)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Run execute the mode cfg selects.
func (a *App) Run(cfg *config.Config) error {
	logger := log.WithFields(log.Fields{
		"run":    uuid.NewString(),
		"mode":   cfg.Mode(),
		"device": cfg.Device,
	})
	logger.Debug("starting")
	switch cfg.Mode() {
	case config.ModeCapture:
		return a.capture(logger, cfg)
	case config.ModeReplay:
		return a.replay(logger, cfg)
	default:
		return a.list()
	}
}

func (a *App) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *App) list() error {
	list := a.ListDevices
	if list == nil {
		list = pcap.FindAllDevs
	}
	devs, err := list()
	if err != nil {
		return errors.Wrap(err, "failed to list devices")
	}
	for _, d := range devs {
		line := fmt.Sprintf("%-30s", d.Name)
		if d.Description != "" {
			line += " " + d.Description
		}
		if _, err := fmt.Fprintln(a.out(), line); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) open(cfg pcap.Config) (Device, error) {
	open := a.Open
	if open == nil {
		open = openHandle
	}
	return open(cfg)
}

// cancel the stop channel of a run and a function releasing it
func (a *App) cancel() (pipeline.Cancel, func()) {
	if a.Cancel != nil {
		return a.Cancel, func() {}
	}
	sig := interrupt.New()
	stop := sig.Listen()
	return sig.C(), stop
}

func (a *App) observers(cfg *config.Config) ([]pipeline.Observer, func() error, error) {
	if cfg.Waveform == "" {
		return nil, func() error { return nil }, nil
	}
	rec, err := waveform.Create(cfg.Waveform)
	if err != nil {
		return nil, nil, err
	}
	return []pipeline.Observer{rec}, rec.Close, nil
}

func (a *App) capture(logger *log.Entry, cfg *config.Config) (err error) {
	dev, err := a.open(cfg.Capture())
	if err != nil {
		return err
	}
	defer dev.Close()

	w, err := savefile.Create(cfg.Output, dev.LinkType(), uint32(dev.Snaplen()), cfg.Format)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	observers, closeObservers, err := a.observers(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeObservers(); err == nil {
			err = cerr
		}
	}()

	cancel, stop := a.cancel()
	defer stop()
	fmt.Fprintf(a.out(), "writing to %s\n", cfg.Output)
	c := &pipeline.Capture{
		Source:    dev,
		Sink:      w,
		Cancel:    cancel,
		Verbose:   cfg.Verbose,
		Out:       a.out(),
		Count:     cfg.Count,
		Observers: observers,
	}
	_, err = c.Run()
	logger.WithFields(log.Fields{
		"file":      cfg.Output,
		"packets":   w.Count(),
		"cancelled": c.Cancelled(),
	}).Debug("capture done")
	return err
}

func (a *App) replay(logger *log.Entry, cfg *config.Config) (err error) {
	dev, err := a.open(cfg.Capture())
	if err != nil {
		return err
	}
	defer dev.Close()

	r, err := savefile.Open(cfg.Input)
	if err != nil {
		return err
	}
	defer r.Close()
	if r.LinkType() != dev.LinkType() {
		logger.WithFields(log.Fields{
			"file_linktype":   r.LinkType(),
			"device_linktype": dev.LinkType(),
		}).Warn("link types differ, packets are sent unchanged")
	}
	observers, closeObservers, err := a.observers(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeObservers(); err == nil {
			err = cerr
		}
	}()

	cancel, stop := a.cancel()
	defer stop()
	fmt.Fprintf(a.out(), "reading from %s\n", cfg.Input)
	rp := &pipeline.Replay{
		Source:    r,
		Device:    dev,
		Cancel:    cancel,
		Verbose:   cfg.Verbose,
		Out:       a.out(),
		Speed:     cfg.Speed,
		Observers: observers,
	}
	_, err = rp.Run()
	logger.WithFields(log.Fields{
		"file":      cfg.Input,
		"packets":   rp.Sent(),
		"cancelled": rp.Cancelled(),
	}).Debug("replay done")
	return err
}
