// Package config holds the declarative configuration scopes that feed the
// export pipeline: application, module, provider, protocol, registry,
// monitor, method, and argument. Scope structs are plain immutable data; the
// precedence walk that flattens them into one parameter map lives in the
// export pipeline, built on AppendParameters below.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError reports an invalid or inconsistent configuration.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

// Errorf builds a ConfigError.
func Errorf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// ApplicationConfig is the outermost scope: identity of the deploying
// application.
type ApplicationConfig struct {
	Name         string `param:"application" yaml:"name"`
	Owner        string `param:"owner" yaml:"owner"`
	Organization string `param:"organization" yaml:"organization"`
	Environment  string `param:"environment" yaml:"environment"`

	Registries []*RegistryConfig `param:"-" yaml:"registries"`
	Monitor    *MonitorConfig    `param:"-" yaml:"monitor"`

	Parameters map[string]string `param:",extra" yaml:"parameters"`
}

// ModuleConfig groups services of one functional module.
type ModuleConfig struct {
	Name    string `param:"module" yaml:"name"`
	Version string `param:"module.version" yaml:"version"`
	Owner   string `param:"module.owner" yaml:"owner"`

	Registries []*RegistryConfig `param:"-" yaml:"registries"`
	Monitor    *MonitorConfig    `param:"-" yaml:"monitor"`

	Parameters map[string]string `param:",extra" yaml:"parameters"`
}

// ProviderConfig carries provider-wide defaults. When it acts as the defaults
// source for a service its attributes are prefixed "default." so explicit
// service settings shadow them.
type ProviderConfig struct {
	Host        string `param:"-" yaml:"host"`
	Port        int    `param:"-" yaml:"port"`
	ContextPath string `param:"-" yaml:"contextpath"`

	Timeout       Duration      `param:"timeout" yaml:"timeout"`
	Retries       *int          `param:"retries" yaml:"retries"`
	Weight        *int          `param:"weight" yaml:"weight"`
	Serialization string        `param:"serialization" yaml:"serialization"`
	Token         string        `param:"token" yaml:"token"`
	Dynamic       *bool         `param:"dynamic" yaml:"dynamic"`
	Proxy         string        `param:"proxy" yaml:"proxy"`
	Scope         string        `param:"scope" yaml:"scope"`

	Export *bool          `param:"-" yaml:"export"`
	Delay  *Duration      `param:"-" yaml:"delay"`

	Registries []*RegistryConfig `param:"-" yaml:"registries"`
	Monitor    *MonitorConfig    `param:"-" yaml:"monitor"`
	Protocols  []*ProtocolConfig `param:"-" yaml:"protocols"`

	Parameters map[string]string `param:",extra" yaml:"parameters"`
}

// ProtocolConfig describes one transport binding of a service.
type ProtocolConfig struct {
	Name        string `param:"-" yaml:"name"`
	Host        string `param:"-" yaml:"host"`
	Port        int    `param:"-" yaml:"port"`
	ContextPath string `param:"-" yaml:"contextpath"`

	Threads       int    `param:"threads" yaml:"threads"`
	Payload       int    `param:"payload" yaml:"payload"`
	Serialization string `param:"serialization" yaml:"serialization"`
	Register      *bool  `param:"register" yaml:"register"`

	Parameters map[string]string `param:",extra" yaml:"parameters"`
}

// MethodConfig overrides parameters for a single method of the service
// interface. Attributes land in the flat map keyed "<method>.<attr>".
type MethodConfig struct {
	Name        string        `param:"-" yaml:"name"`
	Timeout     Duration      `param:"timeout" yaml:"timeout"`
	Retries     *int          `param:"retries" yaml:"retries"`
	Retry       *bool         `param:"retry" yaml:"retry"` // legacy spelling, rewritten to retries
	LoadBalance string        `param:"loadbalance" yaml:"loadbalance"`
	Weight      *int          `param:"weight" yaml:"weight"`

	Arguments []*ArgumentConfig `param:"-" yaml:"arguments"`

	Parameters map[string]string `param:",extra" yaml:"parameters"`
}

// ArgumentConfig overrides parameters for one argument of a method, located
// either by explicit index or by scanning the method signature for a type.
type ArgumentConfig struct {
	Index    *int   `param:"-" yaml:"index"`
	Type     string `param:"-" yaml:"type"`
	Callback *bool  `param:"callback" yaml:"callback"`

	Parameters map[string]string `param:",extra" yaml:"parameters"`
}

// Int returns a pointer to v, for optional int attributes in literals.
func Int(v int) *int { return &v }

// Bool returns a pointer to v, for optional bool attributes in literals.
func Bool(v bool) *bool { return &v }

// AppendParameters copies every declared attribute of scope into dst. Keys
// come from the `param` struct tag, prefixed with prefix+"." when prefix is
// non-empty. Zero-valued attributes are skipped; nil scope is a no-op. An
// attribute tagged ",extra" is a free-form map merged entry by entry.
func AppendParameters(dst map[string]string, scope any, prefix string) {
	if scope == nil {
		return
	}
	v := reflect.ValueOf(scope)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("param")
		if tag == "" || tag == "-" {
			continue
		}
		fv := v.Field(i)
		if tag == ",extra" {
			extra, _ := fv.Interface().(map[string]string)
			for k, val := range extra {
				putParam(dst, prefix, k, val)
			}
			continue
		}
		if s, ok := paramString(fv); ok {
			putParam(dst, prefix, tag, s)
		}
	}
}

func putParam(dst map[string]string, prefix, key, val string) {
	if prefix != "" {
		key = prefix + "." + key
	}
	dst[key] = val
}

// paramString renders a field value, reporting false for unset values: empty
// strings, zero numbers, and nil pointers. A non-nil pointer counts as set
// even when it points at a zero value; that is how retries=0 is expressed.
func paramString(v reflect.Value) (string, bool) {
	explicit := false
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "", false
		}
		explicit = true
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.String:
		s := v.String()
		return s, explicit || s != ""
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), explicit || v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch d := v.Interface().(type) {
		case time.Duration:
			return strconv.FormatInt(d.Milliseconds(), 10), explicit || d != 0
		case Duration:
			return strconv.FormatInt(d.Milliseconds(), 10), explicit || d != 0
		}
		n := v.Int()
		return strconv.FormatInt(n, 10), explicit || n != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := v.Uint()
		return strconv.FormatUint(n, 10), explicit || n != 0
	default:
		return "", false
	}
}

// AppendMethodParameters appends every method scope under "<method>.<attr>",
// applies the retry=false → retries=0 rewrite, and resolves argument
// overrides against methodArgs, a map of method name to parameter type names
// taken from the service interface.
func AppendMethodParameters(dst map[string]string, methods []*MethodConfig, methodArgs map[string][]string) error {
	for _, method := range methods {
		if method == nil || method.Name == "" {
			continue
		}
		AppendParameters(dst, method, method.Name)

		retryKey := method.Name + ".retry"
		if v, ok := dst[retryKey]; ok {
			delete(dst, retryKey)
			if v == "false" {
				dst[method.Name+".retries"] = "0"
			}
		}

		for _, arg := range method.Arguments {
			if arg == nil {
				continue
			}
			if err := appendArgumentParameters(dst, method.Name, arg, methodArgs[method.Name]); err != nil {
				return err
			}
		}
	}
	return nil
}

func appendArgumentParameters(dst map[string]string, methodName string, arg *ArgumentConfig, argTypes []string) error {
	if arg.Type != "" {
		matched := false
		for i, typ := range argTypes {
			if typ != arg.Type {
				continue
			}
			if arg.Index != nil && *arg.Index != i {
				return Errorf("argument of %s: index %d does not match type %s", methodName, *arg.Index, arg.Type)
			}
			AppendParameters(dst, arg, methodName+"."+strconv.Itoa(i))
			matched = true
		}
		if !matched {
			if arg.Index != nil {
				return Errorf("argument of %s: index %d does not match type %s", methodName, *arg.Index, arg.Type)
			}
			return Errorf("argument of %s: no parameter of type %s", methodName, arg.Type)
		}
		return nil
	}
	if arg.Index == nil {
		return Errorf("argument of %s must set index or type", methodName)
	}
	if *arg.Index < 0 || *arg.Index >= len(argTypes) {
		return Errorf("argument of %s: index %d out of range", methodName, *arg.Index)
	}
	AppendParameters(dst, arg, methodName+"."+strconv.Itoa(*arg.Index))
	return nil
}

// AppendRuntimeParameters stamps the process-level parameters every exported
// descriptor carries.
func AppendRuntimeParameters(dst map[string]string) {
	dst["release"] = Release
	dst["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	dst["pid"] = strconv.Itoa(os.Getpid())
}

// Release is the framework revision stamped on exported descriptors.
const Release = "0.3.0"

// File is the YAML shape of a provider-side configuration file.
type File struct {
	Application *ApplicationConfig `yaml:"application"`
	Module      *ModuleConfig      `yaml:"module"`
	Provider    *ProviderConfig    `yaml:"provider"`
	Registries  []*RegistryConfig  `yaml:"registries"`
	Protocols   []*ProtocolConfig  `yaml:"protocols"`
	Monitor     *MonitorConfig     `yaml:"monitor"`
}

// LoadFile reads a provider configuration file.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, Errorf("cannot parse %s: %v", path, err)
	}
	return &f, nil
}

// Getenv returns the environment value for key, or def when unset or empty.
func Getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
