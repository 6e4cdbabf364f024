package model

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentflow/core"
)

// Router dispatches requests to a ChatService chosen by the provider named in
// the request's model configuration.
type Router struct {
	services map[core.Provider]ChatService
	fallback core.Provider
}

// NewRouter creates a router. fallback is used for requests without a model
// configuration or naming an unregistered provider.
func NewRouter(fallback core.Provider) *Router {
	return &Router{services: make(map[core.Provider]ChatService), fallback: fallback}
}

// Register binds a provider to a service. Registration is not safe for use
// concurrently with Send.
func (r *Router) Register(p core.Provider, svc ChatService) *Router {
	r.services[p] = svc
	return r
}

// Send implements ChatService.
func (r *Router) Send(ctx context.Context, req Request) (*Response, error) {
	svc, err := r.resolve(req)
	if err != nil {
		return nil, err
	}
	return svc.Send(ctx, req)
}

func (r *Router) resolve(req Request) (ChatService, error) {
	if req.Model != nil && req.Model.Provider != "" {
		if svc, ok := r.services[req.Model.Provider]; ok {
			return svc, nil
		}
	}
	if svc, ok := r.services[r.fallback]; ok {
		return svc, nil
	}
	provider := r.fallback
	if req.Model != nil && req.Model.Provider != "" {
		provider = req.Model.Provider
	}
	return nil, core.WrapError(core.KindExecution, "model.route", fmt.Errorf("no chat service for provider %q", provider))
}
