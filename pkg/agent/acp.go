package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/pharmagent/medbench/pkg/acpclient"
	"github.com/pharmagent/medbench/pkg/logging"
	"github.com/pharmagent/medbench/pkg/mcpclient"
	"github.com/pharmagent/medbench/pkg/mcpproxy"
)

const (
	acpServerName     = "fhir"
	acpStopReasonDone = "end_turn"
)

// ACPConfig launches a local coding agent that speaks ACP over stdio.
type ACPConfig struct {
	acpclient.Config
	Server mcpclient.ServerConfig
}

// ACPAgent runs every task in a fresh agent process. The agent reaches the
// FHIR tools through a recording proxy, which is where its trace comes from.
type ACPAgent struct {
	cfg       ACPConfig
	newClient func(acpclient.Config) acpclient.Client
}

var _ Endpoint = &ACPAgent{}

func NewACPAgent(cfg ACPConfig) (*ACPAgent, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("acp agent requires a command")
	}
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("acp agent requires an mcp server url")
	}
	return &ACPAgent{cfg: cfg, newClient: acpclient.NewClient}, nil
}

func (a *ACPAgent) Name() string {
	return "acp:" + a.cfg.Command
}

func (a *ACPAgent) Send(ctx context.Context, req Request) (resp *Response, err error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	proxy, err := mcpproxy.New(ctx, a.cfg.Server)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := proxy.Close(); cerr != nil {
			logging.FromContext(ctx).WithError(cerr).Debug("failed to close mcp proxy")
		}
	}()

	url, err := proxy.Start()
	if err != nil {
		return nil, err
	}

	client := a.newClient(a.cfg.Config)
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, client.Close(ctx))
	}()

	res, err := client.Run(ctx, req.Prompt, []acpclient.Server{{
		Name:  acpServerName,
		URL:   url,
		Tools: proxy.Tools(),
	}})
	if err != nil {
		return nil, err
	}
	if res.StopReason != acpStopReasonDone {
		return nil, &NotCompletedError{State: res.StopReason}
	}

	return &Response{Text: res.Text, Trace: proxy.Trace()}, nil
}

func (a *ACPAgent) Close() error {
	return nil
}
