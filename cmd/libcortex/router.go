package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dyike/CortexConsensus/config"
	"github.com/dyike/CortexConsensus/internal/cli"
	"github.com/dyike/CortexConsensus/internal/logging"
	"github.com/dyike/CortexConsensus/internal/service"
	"github.com/dyike/CortexConsensus/internal/trading"
	"github.com/dyike/CortexConsensus/pkg/app"
	"github.com/dyike/CortexConsensus/pkg/bridge"
)

type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

var (
	svcMu   sync.RWMutex
	svc     *service.Service
	cfgMgr  *config.Manager
	logFile *os.File
)

var errNotInitialized = errors.New("sdk not initialized, call InitSDK first")

// initService builds the runtime rooted at workDir. configJSON, when not
// empty, is applied on top of the stored config.
func initService(workDir, configJSON string) error {
	svcMu.Lock()
	defer svcMu.Unlock()
	if svc != nil {
		return errors.New("sdk already initialized")
	}

	mgr, err := config.NewManager(
		config.WithConfigDir(workDir),
		config.WithInitialConfig(config.DefaultConfigWithRoot(workDir)),
		config.WithEnvOverlay(),
	)
	if err != nil {
		return err
	}
	if configJSON != "" {
		if err := mgr.MergeFromJSON(configJSON); err != nil {
			return err
		}
	}

	cfg := mgr.Get()
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, file, err := logging.OpenFile(cfg.DataDir, cfg.LogLevel)
	if err != nil {
		return err
	}

	rt, err := app.NewRuntime(mgr,
		app.WithLogger(logger),
		app.WithNotifier(bridge.Notify),
		app.WithSessionOptions(trading.WithEmitter(bridge.NewNotifier(nil))),
	)
	if err != nil {
		_ = file.Close()
		return err
	}
	cfgMgr, logFile = mgr, file
	svc = service.New(rt, cli.Version, service.WithNotifier(bridge.Notify), service.WithLogger(logger))
	return nil
}

func updateConfig(jsonStr string) error {
	svcMu.RLock()
	mgr := cfgMgr
	svcMu.RUnlock()
	if mgr == nil {
		return errNotInitialized
	}
	return mgr.MergeFromJSON(jsonStr)
}

func shutdownService() {
	svcMu.Lock()
	s, f := svc, logFile
	svc, cfgMgr, logFile = nil, nil, nil
	svcMu.Unlock()
	if s != nil {
		s.Close()
	}
	if f != nil {
		_ = f.Close()
	}
}

func Dispatch(method string, paramsJson string) string {
	svcMu.RLock()
	s := svc
	svcMu.RUnlock()
	if s == nil {
		return jsonResp(503, errNotInitialized.Error(), nil)
	}

	var result any
	var err error

	switch method {
	case "system.info":
		result = s.SystemInfo()
	case "consensus.run":
		result, err = s.StartConsensus(paramsJson)
	case "consensus.cancel":
		result, err = s.CancelConsensus(paramsJson)
	case "consensus.show":
		result, err = s.GetVerdict(paramsJson)
	case "schedule.start":
		result, err = s.StartSchedule()
	case "schedule.stop":
		result, err = s.StopSchedule()
	case "runs.list":
		result, err = s.ListRuns(paramsJson)
	case "transcripts.list":
		result, err = s.ListTranscripts(paramsJson)
	case "transcripts.read":
		result, err = s.ReadTranscript(paramsJson)
	default:
		return jsonResp(404, fmt.Sprintf("Method not found: %s", method), nil)
	}
	if err != nil {
		return jsonResp(500, err.Error(), nil)
	}
	return jsonResp(200, "Ok", result)
}

func jsonResp(code int, msg string, data any) string {
	resp := Response{Code: code, Msg: msg, Data: data}
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(Response{Code: 500, Msg: err.Error()})
	}
	return string(b)
}
