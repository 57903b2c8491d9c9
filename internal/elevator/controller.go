package elevator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"browser-efficiency/internal/logging"
	"browser-efficiency/internal/process"
	"browser-efficiency/internal/protocol"
	"browser-efficiency/internal/tools"

	"github.com/sirupsen/logrus"
)

var (
	ErrFolderNotFound = errors.New("trace folder not found")
	ErrInvalidProfile = errors.New("invalid wpr profile name")
)

// TimestampLayout is used in every file the elevator names.
const TimestampLayout = "20060102_150405"

var profileNamePattern = regexp.MustCompile(`^\w+$`)

// Controller serves the trace control protocol: it waits for a driver,
// dispatches its commands to the tracing tools and acknowledges each one.
type Controller struct {
	server *Server
	tools  *tools.Set
	now    func() time.Time
	logger *logrus.Logger

	passActive bool
	folder     string
	run        *browserRun
}

// browserRun holds what one START_BROWSER set up for its END_BROWSER.
type browserRun struct {
	browser  string
	etlFile  string
	srumFile string
	handles  []process.Handle
}

func NewController(server *Server, set *tools.Set) *Controller {
	return &Controller{
		server: server,
		tools:  set,
		now:    time.Now,
		logger: logging.GetAgentLogger(),
	}
}

// PassActive reports whether a START_PASS has been received without a matching END_PASS.
func (c *Controller) PassActive() bool {
	return c.passActive
}

// Run serves clients one after another until ctx is done or a protocol error
// occurs. Cancellation is not an error.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.WithField("address", c.server.Addr()).Info("Tracing controller started")

	for {
		c.logger.Info("Waiting for client connection")
		if err := c.server.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				c.cleanup()
				return nil
			}
			return err
		}
		c.logger.WithField("client", c.server.RemoteAddr()).Info("Client connected")

		passEnded, err := c.serve(ctx)
		if disconnectErr := c.server.Disconnect(); disconnectErr != nil {
			c.logger.WithError(disconnectErr).Warn("Failed to close client connection")
		}

		if err != nil {
			c.cleanup()
			if ctx.Err() != nil {
				return nil
			}
			c.logger.WithError(err).Error("Protocol error, shutting down")
			return err
		}
		c.logger.Info("Client disconnected")

		if !passEnded && (c.passActive || c.run != nil) {
			c.logger.Warn("Client left in the middle of a pass, cancelling tracing")
			c.cleanup()
		}
	}
}

// serve dispatches commands from the connected client until END_PASS or the
// client goes away, reporting which one happened. Only protocol errors are
// returned.
func (c *Controller) serve(ctx context.Context) (bool, error) {
	for {
		tokens, err := c.server.GetCommand(ctx)
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				c.logger.WithError(err).Warn("Failed to read command")
			}
			return false, nil
		}

		c.logger.WithField("command", strings.Join(tokens, " ")).Debug("Command received")

		cmd, err := protocol.Parse(tokens)
		if err != nil {
			return false, err
		}

		passEnded, err := c.dispatch(ctx, cmd)
		if err != nil {
			return false, err
		}

		if err := c.server.AcknowledgeCommand(); err != nil {
			c.logger.WithError(err).Warn("Failed to acknowledge command")
			return passEnded, nil
		}

		if passEnded {
			return true, nil
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, cmd protocol.Command) (bool, error) {
	switch cmd := cmd.(type) {
	case protocol.StartPass:
		return false, c.startPass(cmd)
	case protocol.StartBrowser:
		return false, c.startBrowser(ctx, cmd)
	case protocol.EndBrowser:
		c.endBrowser(ctx, cmd)
		return false, nil
	case protocol.EndPass:
		c.logger.Info("Client is ending the test pass")
		c.passActive = false
		return true, nil
	case protocol.CancelPass:
		c.logger.Info("Client is cancelling the current run")
		c.cancel(ctx)
		return false, nil
	}
	return false, fmt.Errorf("%w: %s", protocol.ErrUnknownCommand, cmd.Name())
}

func (c *Controller) startPass(cmd protocol.StartPass) error {
	c.logger.Info("Client is starting the test pass")

	folder := cmd.Folder
	if folder == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		folder = wd
	} else if info, err := os.Stat(folder); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrFolderNotFound, folder)
	}

	c.folder = folder
	c.passActive = true
	c.logger.WithField("folder", folder).Info("Trace files will be saved to folder")
	return nil
}

// runNames builds the per-run file names, all sharing one timestamp.
type runNames struct {
	folder    string
	browser   string
	scenario  string
	iteration string
	timestamp string
}

func (n runNames) base(scenario string) string {
	return n.browser + "_" + scenario + "_" + n.iteration
}

func (n runNames) file(tool, ext string) string {
	return filepath.Join(n.folder, n.base(n.scenario)+"_"+tool+"_"+n.timestamp+ext)
}

func (n runNames) etl(profile string) string {
	return n.file(profile, ".etl")
}

// loggerOutput is where the named duration-bounded logger writes.
func (n runNames) loggerOutput(name string) string {
	switch name {
	case "intelpowerlog":
		return n.file("IntelPowerLog", ".csv")
	case "ippet":
		return n.file("ippet", "")
	case "socwatch":
		return filepath.Join(n.folder, "socwatch", n.base(n.scenario)+"_socwatch_"+n.timestamp)
	case "amduprofcli":
		return filepath.Join(n.folder, "amdProfCli", n.base(strings.ReplaceAll(n.scenario, "-", ""))+"_amd_"+n.timestamp)
	}
	return n.file(name, "")
}

func (c *Controller) startBrowser(ctx context.Context, cmd protocol.StartBrowser) error {
	logger := c.logger.WithFields(logrus.Fields{
		"browser":   cmd.Browser,
		"scenario":  cmd.Scenario,
		"iteration": cmd.Iteration,
		"profile":   cmd.WprProfile,
		"mode":      cmd.Mode.String(),
	})

	if !c.passActive {
		logger.Warn("START_BROWSER received without an active pass")
	}

	if !profileNamePattern.MatchString(cmd.WprProfile) {
		return fmt.Errorf("%w: %q", ErrInvalidProfile, cmd.WprProfile)
	}

	// Whatever is still recording, ours or left over from an earlier
	// elevator, has to go before the new session can start.
	if cmd.Mode != protocol.TraceModeDisabled {
		if c.tools.WPR.Active() {
			logger.Warn("Cancelling leftover trace session")
		}
		c.tools.WPR.Cancel(ctx)
	}
	c.terminateProcMon(ctx)

	folder := c.folder
	if folder == "" {
		folder = "."
	}
	names := runNames{
		folder:    folder,
		browser:   cmd.Browser,
		scenario:  cmd.Scenario,
		iteration: strconv.Itoa(cmd.Iteration),
		timestamp: c.now().Format(TimestampLayout),
	}
	run := &browserRun{
		browser:  cmd.Browser,
		etlFile:  names.etl(cmd.WprProfile),
		srumFile: names.file("srum", ".csv"),
	}
	c.run = run

	logger.Info("Starting tracing session")

	if cmd.Mode == protocol.TraceModeDisabled {
		logger.Info("WPR is disabled")
	} else if err := c.tools.WPR.Start(ctx, cmd.WprProfile, cmd.Mode); err != nil {
		c.logToolError(logger, "wpr", err)
	}

	if handle, err := c.tools.ProcMon.Start(ctx, names.file("procmon", ".pml")); err != nil {
		c.logToolError(logger, "procmon", err)
	} else {
		run.handles = append(run.handles, handle)
	}

	if cmd.HasDuration {
		for _, l := range c.tools.Loggers {
			if !l.Enabled() {
				continue
			}
			handle, err := l.Start(ctx, names.loggerOutput(l.Name()), cmd.Duration)
			if err != nil {
				c.logToolError(logger, l.Name(), err)
				continue
			}
			run.handles = append(run.handles, handle)
		}
	} else {
		logger.Debug("No duration given, skipping duration-bounded loggers")
	}

	if err := c.tools.EmptyStandbyList.Run(ctx); err != nil {
		c.logToolError(logger, "emptystandbylist", err)
	}

	return nil
}

func (c *Controller) endBrowser(ctx context.Context, cmd protocol.EndBrowser) {
	logger := c.logger.WithField("browser", cmd.Browser)
	logger.Info("Ending tracing session")

	run := c.run
	if run == nil {
		logger.Warn("END_BROWSER received without a matching START_BROWSER")
		return
	}

	if c.tools.WPR.Active() {
		logger.WithField("etl", run.etlFile).Info("Saving trace file")
		if err := c.tools.WPR.Stop(ctx, run.etlFile); err != nil {
			logger.WithError(err).Error("Failed to stop WPR")
		}
	}

	if err := c.tools.PowerCfg.DumpSrumReport(ctx, run.srumFile); err != nil {
		c.logToolError(logger, "powercfg", err)
	} else {
		logger.WithField("srum", run.srumFile).Info("Saved SRUM report")
	}

	c.terminateProcMon(ctx)

	for _, handle := range run.handles {
		logger.WithFields(logrus.Fields{
			"tool":   handle.Name(),
			"status": handle.Status().String(),
		}).Info("Tool status")
	}

	c.run = nil
}

func (c *Controller) cancel(ctx context.Context) {
	c.tools.WPR.Cancel(ctx)
	c.terminateProcMon(ctx)
	c.run = nil
}

func (c *Controller) terminateProcMon(ctx context.Context) {
	if err := c.tools.ProcMon.Terminate(ctx); err != nil {
		c.logToolError(c.logger, "procmon", err)
	}
}

// cleanup leaves no session running once the controller stops serving.
func (c *Controller) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.cancel(ctx)
	c.passActive = false
}

func (c *Controller) logToolError(logger logrus.FieldLogger, tool string, err error) {
	if tools.Skipped(err) {
		logger.WithField("tool", tool).WithError(err).Debug("Tool skipped")
		return
	}
	logger.WithField("tool", tool).WithError(err).Error("Tool failed")
}
