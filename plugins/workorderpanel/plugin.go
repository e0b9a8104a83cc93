// Command workorderpanel is a lineside UI plugin listing the open work
// orders of a line. Build it with
//
//	go build -buildmode=plugin -o workorderpanel.so ./plugins/workorderpanel
package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/darkden-lab/lineside/internal/workorders"
	"github.com/darkden-lab/lineside/pkg/pluginapi"
)

const (
	pluginID    = "workorderpanel"
	openStatus  = "Open"
	maxListed   = 20
	componentID = "openOrdersPanel"
)

type Panel struct {
	mu     sync.RWMutex
	root   pluginapi.ComponentType
	reader workorders.Reader
	logger *slog.Logger
}

// NewPlugin is the entry symbol named in plugin.json.
func NewPlugin() pluginapi.Plugin {
	p := &Panel{logger: slog.Default()}
	p.root = &pluginapi.StaticComponent{
		TypeName:    componentID,
		PackagePath: "lineside.plugins.workorderpanel",
		Attrs: []pluginapi.Attribute{
			{Kind: pluginapi.AttributeRoute, Args: map[string]string{"path": "/plugins/" + pluginID}},
			{Kind: pluginapi.AttributeTitle, Args: map[string]string{"text": "Open work orders"}},
		},
		RenderFn: p.render,
	}
	return p
}

func (p *Panel) ID() string      { return pluginID }
func (p *Panel) Name() string    { return "Open Work Orders" }
func (p *Panel) Version() string { return "1.0.0" }

func (p *Panel) Initialize(services pluginapi.ServiceContext) error {
	p.logger = services.Logger()
	svc, ok := services.Lookup(pluginapi.ServiceWorkOrders)
	if !ok {
		return errors.New("work order service is not available")
	}
	reader, ok := svc.(workorders.Reader)
	if !ok {
		return errors.New("work order service has an unexpected type")
	}
	p.reader = reader
	return nil
}

// Execute checks once that the order system answers so a broken source is
// visible in the log right after load.
func (p *Panel) Execute(ctx context.Context) error {
	res, err := p.reader.Search(ctx, workorders.PageRequest{Page: 1, PageSize: 1, Status: openStatus})
	if err != nil {
		return err
	}
	p.logger.Info("work order panel ready", "openOrders", res.TotalCount)
	return nil
}

func (p *Panel) RootComponent() pluginapi.ComponentType {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.root
}

func (p *Panel) SetRootComponent(ct pluginapi.ComponentType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.root = ct
}

func main() {}
