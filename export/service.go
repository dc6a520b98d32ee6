// Package export materialises a service implementation plus its declarative
// configuration as live endpoints: it resolves the configuration scopes into
// one parameter map, picks bind and advertised addresses, builds the
// endpoint descriptor, and fans the export out across protocols and
// discovery registries through the transport registry.
package export

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"

	"mesh-rpc/config"
	"mesh-rpc/endpoint"
	"mesh-rpc/logger"
	"mesh-rpc/netutil"
	"mesh-rpc/proxy"
	"mesh-rpc/transport"
)

// ErrAlreadyUnexported is returned by Export after Unexport.
var ErrAlreadyUnexported = errors.New("export: service has already been unexported")

type state int

const (
	stateNew state = iota
	stateExported
	stateUnexported
)

// Service is one exportable service: the user reference, its interface
// identity, and the configuration scopes that shape the endpoint.
// Configuration fields must not change once Export is called.
type Service struct {
	// Interface is the service identity, e.g. "demo.Greeter". Required.
	Interface string
	// InterfaceType optionally names the Go interface the reference must
	// satisfy; when nil the reference's own method set is authoritative.
	InterfaceType reflect.Type
	// Ref is the implementation. A Ref implementing proxy.GenericService
	// marks the service generic even when Generic is unset; a service with
	// Generic set is exported without checking Ref's methods.
	Ref any

	// Path overrides the service path; defaults to Interface.
	Path    string
	Group   string `param:"group"`
	Version string `param:"version"`

	// Token enables caller authorization: a literal token, or
	// "true"/"default" to generate one.
	Token string
	// Generic marks a generic service: true, nativejava, or bean.
	Generic string

	// Local and Stub are optional client-side hook implementations; each
	// must satisfy the service interface.
	Local any
	Stub  any

	// Delay postpones the actual export; inherited from the provider scope
	// when unset.
	Delay *config.Duration
	// ExportEnabled is the master switch; inherited from the provider
	// scope when unset.
	ExportEnabled *bool

	Protocols   []*config.ProtocolConfig
	Registries  []*config.RegistryConfig
	Provider    *config.ProviderConfig
	Module      *config.ModuleConfig
	Application *config.ApplicationConfig
	Monitor     *config.MonitorConfig
	Methods     []*config.MethodConfig

	// Parameters are service-scope parameters (scope, weight, …), the
	// highest non-method precedence.
	Parameters map[string]string `param:",extra"`

	// Transports resolves protocol names; defaults to the process registry.
	Transports *transport.Registry
	// ProxyFactory wraps Ref into invokers; defaults to reflection.
	ProxyFactory proxy.Factory

	mu        sync.Mutex
	state     state
	exporters []transport.Exporter
	urls      []endpoint.Descriptor

	delayExec *delayExecutor // test seam; nil means the shared executor
}

// Export makes the service reachable according to its configuration. It is
// serialised per service: a second concurrent call becomes a no-op once the
// winner has proceeded. Calling Export after Unexport fails.
func (s *Service) Export() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateExported:
		return nil
	case stateUnexported:
		return ErrAlreadyUnexported
	}

	if err := s.checkAndUpdate(); err != nil {
		return err
	}

	if s.ExportEnabled != nil && !*s.ExportEnabled {
		logger.L().Info("export disabled by configuration", logger.String("interface", s.Interface))
		return nil
	}

	if s.Delay != nil && s.Delay.Std() > 0 {
		s.state = stateExported
		exec := s.delayExec
		if exec == nil {
			exec = sharedDelayExecutor()
		}
		exec.schedule(s.Delay.Std(), s.delayedExport)
		logger.L().Info("export delayed",
			logger.String("interface", s.Interface),
			logger.Duration("delay", s.Delay.Std()))
		return nil
	}

	if err := s.doExportURLs(); err != nil {
		return err
	}
	s.state = stateExported
	return nil
}

// delayedExport runs on the delay executor; an Unexport issued while the
// delay was pending cancels it.
func (s *Service) delayedExport() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateExported {
		return
	}
	if err := s.doExportURLs(); err != nil {
		logger.L().Error("delayed export failed",
			logger.String("interface", s.Interface), logger.Error(err))
	}
}

// Unexport releases every endpoint this service exported. Individual
// failures are logged and skipped so one bad handle cannot pin the rest.
// Idempotent.
func (s *Service) Unexport() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateUnexported {
		return
	}
	// a service that never exported and installed nothing stays exportable;
	// a partially failed export still has handles to release
	if s.state == stateNew && len(s.exporters) == 0 {
		return
	}
	for _, exp := range s.exporters {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.L().Warn("unexport panicked",
						logger.String("interface", s.Interface))
				}
			}()
			exp.Unexport()
		}()
	}
	s.exporters = nil
	s.state = stateUnexported
}

// ExportedURLs returns the descriptors produced by Export, in order.
func (s *Service) ExportedURLs() []endpoint.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]endpoint.Descriptor, len(s.urls))
	copy(out, s.urls)
	return out
}

// Exported reports whether Export has completed (or been scheduled).
func (s *Service) Exported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateExported
}

// checkAndUpdate applies scope inheritance and validates the service before
// anything is exported.
func (s *Service) checkAndUpdate() error {
	if s.Provider == nil {
		s.Provider = &config.ProviderConfig{}
	}
	if s.Registries == nil {
		s.Registries = s.Provider.Registries
	}
	if s.Registries == nil && s.Module != nil {
		s.Registries = s.Module.Registries
	}
	if s.Registries == nil && s.Application != nil {
		s.Registries = s.Application.Registries
	}
	if s.Monitor == nil {
		s.Monitor = s.Provider.Monitor
	}
	if s.Monitor == nil && s.Module != nil {
		s.Monitor = s.Module.Monitor
	}
	if s.Monitor == nil && s.Application != nil {
		s.Monitor = s.Application.Monitor
	}
	if len(s.Protocols) == 0 {
		s.Protocols = s.Provider.Protocols
	}
	if len(s.Protocols) == 0 {
		s.Protocols = []*config.ProtocolConfig{{Name: transport.DubboProtocol}}
	}
	if s.ExportEnabled == nil {
		s.ExportEnabled = s.Provider.Export
	}
	if s.Delay == nil {
		s.Delay = s.Provider.Delay
	}
	if s.Transports == nil {
		s.Transports = transport.DefaultRegistry()
	}
	if s.ProxyFactory == nil {
		s.ProxyFactory = proxy.NewReflectFactory()
	}

	if strings.TrimSpace(s.Interface) == "" {
		return config.Errorf("service interface must not be empty")
	}

	if s.isGeneric() {
		if s.Generic == "" {
			s.Generic = proxy.GenericTrue
		}
		if !proxy.IsGeneric(s.Generic) {
			return config.Errorf("unsupported generic flavour %q", s.Generic)
		}
	} else {
		if s.Ref == nil {
			return config.Errorf("service %s has no reference", s.Interface)
		}
		if s.InterfaceType != nil && !proxy.Implements(s.Ref, s.InterfaceType) {
			return config.Errorf("reference %T does not implement %s", s.Ref, s.Interface)
		}
		for _, m := range s.Methods {
			if m == nil || m.Name == "" {
				continue
			}
			if missing, ok := proxy.HasMethods(s.Ref, []string{m.Name}); !ok {
				return config.Errorf("method %s configured but not found on %s", missing, s.Interface)
			}
		}
	}

	if err := s.checkHook("local", s.Local); err != nil {
		return err
	}
	if err := s.checkHook("stub", s.Stub); err != nil {
		return err
	}

	if s.Path == "" {
		s.Path = s.Interface
	}
	return nil
}

// checkHook validates a local/stub implementation against the interface.
func (s *Service) checkHook(kind string, hook any) error {
	if hook == nil {
		return nil
	}
	if s.InterfaceType != nil {
		if !proxy.Implements(hook, s.InterfaceType) {
			return config.Errorf("%s class %T does not implement %s", kind, hook, s.Interface)
		}
		return nil
	}
	names, err := proxy.MethodNames(s.Ref)
	if err != nil {
		return config.Errorf("%s check: %v", kind, err)
	}
	if missing, ok := proxy.HasMethods(hook, names); !ok {
		return config.Errorf("%s class %T is missing method %s of %s", kind, hook, missing, s.Interface)
	}
	return nil
}

func (s *Service) isGeneric() bool {
	if s.Generic != "" {
		return true
	}
	_, ok := s.Ref.(proxy.GenericService)
	return ok
}

// loadRegistries renders the registry descriptors this service registers
// with.
func (s *Service) loadRegistries() ([]endpoint.Descriptor, error) {
	urls := make([]endpoint.Descriptor, 0, len(s.Registries))
	for _, rc := range s.Registries {
		if rc == nil {
			continue
		}
		d, err := rc.ToDescriptor()
		if err != nil {
			return nil, err
		}
		if s.Application != nil && s.Application.Name != "" {
			d = d.WithParameterIfAbsent("application", s.Application.Name)
		}
		urls = append(urls, d)
	}
	return urls, nil
}

// loadMonitor renders the monitor descriptor attached to exported services,
// if a monitor is configured.
func (s *Service) loadMonitor() (endpoint.Descriptor, bool) {
	if s.Monitor == nil {
		return endpoint.Descriptor{}, false
	}
	d, err := s.Monitor.ToDescriptor()
	if err != nil {
		logger.L().Warn("monitor configuration ignored", logger.Error(err))
		return endpoint.Descriptor{}, false
	}
	return d, true
}

// doExportURLs exports the service once per protocol config, against every
// registry.
func (s *Service) doExportURLs() error {
	registryURLs, err := s.loadRegistries()
	if err != nil {
		return err
	}
	for _, pc := range s.Protocols {
		if pc == nil {
			continue
		}
		if err := s.doExportURLsFor1Protocol(pc, registryURLs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) doExportURLsFor1Protocol(pc *config.ProtocolConfig, registryURLs []endpoint.Descriptor) error {
	name := pc.Name
	if name == "" {
		name = transport.DubboProtocol
	}
	name = strings.ToLower(name)

	tr, err := s.Transports.Get(name)
	if err != nil {
		return err
	}

	params, err := s.resolveParameters(pc)
	if err != nil {
		return err
	}

	if name == transport.InjvmProtocol {
		params[endpoint.RegisterKey] = "false"
		params[endpoint.NotifyKey] = "false"
	}

	host, err := s.findConfiguredHost(pc, name, registryURLs, params)
	if err != nil {
		return err
	}
	port, err := s.findConfiguredPort(pc, name, tr, params)
	if err != nil {
		return err
	}

	contextPath := pc.ContextPath
	if contextPath == "" && s.Provider != nil {
		contextPath = s.Provider.ContextPath
	}
	path := s.Path
	if contextPath != "" {
		path = strings.TrimSuffix(contextPath, "/") + "/" + path
	}

	url := endpoint.NewWithParams(name, host, port, path, params)
	url = transport.Configure(url)

	scope := url.Parameter(endpoint.ScopeKey, "")
	if !strings.EqualFold(scope, endpoint.ScopeNone) {
		if !strings.EqualFold(scope, endpoint.ScopeRemote) {
			if err := s.exportLocal(url); err != nil {
				return err
			}
		}
		if !strings.EqualFold(scope, endpoint.ScopeLocal) {
			if err := s.exportRemote(name, url, registryURLs); err != nil {
				return err
			}
		}
	}

	s.urls = append(s.urls, url)
	return nil
}

// resolveParameters flattens the configuration scopes, lowest precedence
// first, into one parameter map.
func (s *Service) resolveParameters(pc *config.ProtocolConfig) (map[string]string, error) {
	params := map[string]string{endpoint.SideKey: endpoint.ProviderSide}
	config.AppendRuntimeParameters(params)
	config.AppendParameters(params, s.Application, "")
	config.AppendParameters(params, s.Module, "")
	config.AppendParameters(params, s.Provider, "default")
	config.AppendParameters(params, pc, "")
	config.AppendParameters(params, s, "")

	methodArgs, err := s.methodArgTypes()
	if err != nil {
		return nil, err
	}
	if err := config.AppendMethodParameters(params, s.Methods, methodArgs); err != nil {
		return nil, err
	}

	if s.isGeneric() {
		params[endpoint.GenericKey] = s.Generic
		params[endpoint.MethodsKey] = endpoint.AnyValue
	} else {
		names, err := proxy.MethodNames(s.Ref)
		if err != nil {
			return nil, config.Errorf("cannot scan methods of %s: %v", s.Interface, err)
		}
		if len(names) == 0 {
			logger.L().Warn("no callable method found on service", logger.String("interface", s.Interface))
			params[endpoint.MethodsKey] = endpoint.AnyValue
		} else {
			params[endpoint.MethodsKey] = strings.Join(names, ",")
		}
		if s.Version != "" {
			params[endpoint.RevisionKey] = s.Version
		}
	}

	token := s.Token
	if token == "" {
		token = s.Provider.Token
	}
	if token != "" {
		if token == "true" || token == "default" {
			params[endpoint.TokenKey] = uuid.NewString()
		} else {
			params[endpoint.TokenKey] = token
		}
	}
	return params, nil
}

// methodArgTypes maps each method to its argument type names for argument
// override resolution. Generic services have no static signatures.
func (s *Service) methodArgTypes() (map[string][]string, error) {
	if s.isGeneric() || len(s.Methods) == 0 {
		return nil, nil
	}
	return proxy.MethodArgTypes(s.Ref)
}

// exportLocal rewrites the descriptor for in-process consumption and hands
// it to the injvm transport. Registration is suppressed.
func (s *Service) exportLocal(url endpoint.Descriptor) error {
	if url.Protocol() == transport.InjvmProtocol {
		return nil
	}
	local := url.
		WithProtocol(transport.InjvmProtocol).
		WithHost(netutil.Localhost).
		WithPort(0).
		WithParameter(endpoint.RegisterKey, "false").
		WithParameter(endpoint.NotifyKey, "false")

	inj, err := s.Transports.Get(transport.InjvmProtocol)
	if err != nil {
		return err
	}
	invoker, err := s.ProxyFactory.GetInvoker(s.Ref, s.Interface, local)
	if err != nil {
		return err
	}
	exporter, err := inj.Export(DelegateInvoker{Invoker: invoker, Service: s.snapshot()})
	if err != nil {
		return &transport.ExportError{Protocol: transport.InjvmProtocol, Err: err}
	}
	s.exporters = append(s.exporters, exporter)
	logger.L().Info("exported service locally", logger.String("interface", s.Interface))
	return nil
}

// exportRemote publishes the service descriptor at every registry, or
// exports it directly when no registry is configured (direct-connect mode,
// development only).
func (s *Service) exportRemote(name string, url endpoint.Descriptor, registryURLs []endpoint.Descriptor) error {
	if len(registryURLs) == 0 {
		invoker, err := s.ProxyFactory.GetInvoker(s.Ref, s.Interface, url)
		if err != nil {
			return err
		}
		tr, err := s.Transports.Get(name)
		if err != nil {
			return err
		}
		exporter, err := tr.Export(DelegateInvoker{Invoker: invoker, Service: s.snapshot()})
		if err != nil {
			return &transport.ExportError{Protocol: name, Err: err}
		}
		s.exporters = append(s.exporters, exporter)
		return nil
	}

	registryTr, err := s.Transports.Get(transport.RegistryProtocol)
	if err != nil {
		return err
	}
	monitorURL, hasMonitor := s.loadMonitor()

	for _, registryURL := range registryURLs {
		url = url.WithParameterIfAbsent(endpoint.DynamicKey, registryURL.Parameter(endpoint.DynamicKey, ""))
		if hasMonitor {
			url = url.WithEncodedParameter(endpoint.MonitorKey, monitorURL.String())
		}
		if hint := url.Parameter(endpoint.ProxyKey, ""); hint != "" {
			registryURL = registryURL.WithParameter(endpoint.ProxyKey, hint)
		}

		full := registryURL.WithEncodedParameter(endpoint.ExportKey, url.String())
		invoker, err := s.ProxyFactory.GetInvoker(s.Ref, s.Interface, full)
		if err != nil {
			return err
		}
		logger.L().Info("registering exported service",
			logger.String("interface", s.Interface),
			logger.String("registry", registryURL.Address()))

		exporter, err := registryTr.Export(DelegateInvoker{Invoker: invoker, Service: s.snapshot()})
		if err != nil {
			return &transport.ExportError{Protocol: name, Registry: registryURL.Address(), Err: err}
		}
		s.exporters = append(s.exporters, exporter)
	}
	return nil
}
