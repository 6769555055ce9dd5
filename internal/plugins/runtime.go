package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/vrsandeep/stream-go/internal/providers"
)

// ScriptLoader opens converted plugin scripts, each in its own goja VM.
type ScriptLoader struct {
	client *http.Client
	log    *zap.Logger
}

// NewScriptLoader creates a loader whose host API uses client for HTTP.
func NewScriptLoader(client *http.Client, log *zap.Logger) *ScriptLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &ScriptLoader{client: client, log: log.With(zap.String("component", "plugins"))}
}

// Open evaluates loadable as a CommonJS module in a fresh VM.
func (l *ScriptLoader) Open(loadable, pluginDir string) (unit Unit, err error) {
	src, err := os.ReadFile(loadable)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin script: %w", err)
	}
	name := filepath.Base(pluginDir)
	defer recoverPluginPanic(name, "open", &err)

	vm := goja.New()
	u := &scriptUnit{
		vm:   vm,
		name: name,
		host: newHostAPI(l.client, l.log.With(zap.String("plugin", name))),
	}
	u.host.inject(vm)

	u.module = vm.NewObject()
	exports := vm.NewObject()
	u.module.Set("exports", exports)

	prog, err := goja.Compile(loadable, "(function(exports, module, require) {\n"+string(src)+"\n})", false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile plugin script: %w", err)
	}
	wrapper, err := vm.RunProgram(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate plugin script: %w", err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, errors.New("plugin script wrapper is not callable")
	}
	require := func(call goja.FunctionCall) goja.Value {
		panic(vm.NewTypeError("module %q is not available to plugins", call.Argument(0).String()))
	}
	if _, err := fn(goja.Undefined(), exports, u.module, vm.ToValue(require)); err != nil {
		return nil, fmt.Errorf("failed to execute plugin script: %w", err)
	}
	return u, nil
}

// scriptUnit owns one VM. goja runtimes are not goroutine-safe, so every
// entry into the VM goes through do.
type scriptUnit struct {
	mu     sync.Mutex
	vm     *goja.Runtime
	module *goja.Object
	host   *hostAPI
	name   string
	closed bool
}

func (u *scriptUnit) do(ctx context.Context, op string, f func(vm *goja.Runtime) error) (err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrUnitClosed
	}
	u.host.ctx = ctx
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		u.vm.Interrupt(ctx.Err())
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
		u.vm.ClearInterrupt()
		u.host.ctx = nil
	}()
	defer recoverPluginPanic(u.name, op, &err)
	return f(u.vm)
}

// settle unwraps a promise returned by an async function. Promise jobs run
// when the outermost call returns, so anything still pending will never
// settle.
func settle(v goja.Value, err error) (goja.Value, error) {
	if err != nil {
		return nil, err
	}
	if v == nil {
		return goja.Undefined(), nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("promise rejected: %s", p.Result().String())
	default:
		return nil, errors.New("promise still pending after call returned")
	}
}

func (u *scriptUnit) Create(className string) (instance BasePlugin, err error) {
	err = u.do(context.Background(), "create", func(vm *goja.Runtime) error {
		ctor := u.exportedClass(vm, className)
		if ctor == nil {
			return fmt.Errorf("class %s is not exported", className)
		}
		obj, err := vm.New(ctor)
		if err != nil {
			return fmt.Errorf("failed to construct %s: %w", className, err)
		}
		load := obj.Get("load")
		if _, ok := goja.AssertFunction(load); !ok {
			return fmt.Errorf("%w: %s has no load function", ErrNotBasePlugin, className)
		}

		si := scriptInstance{unit: u, obj: obj}
		if load.ToObject(vm).Get("length").ToInteger() > 0 {
			p := &scriptPlugin{scriptInstance: si}
			si.bind(vm, &p.Base, p.RegisterClickAction)
			instance = p
		} else {
			p := &scriptBasePlugin{scriptInstance: si}
			si.bind(vm, &p.Base, nil)
			instance = p
		}
		return nil
	})
	return instance, err
}

func (u *scriptUnit) exportedClass(vm *goja.Runtime, className string) goja.Value {
	exports := u.module.Get("exports")
	if exports == nil || goja.IsUndefined(exports) || goja.IsNull(exports) {
		return nil
	}
	obj := exports.ToObject(vm)
	if v := obj.Get(className); isFunction(v) {
		return v
	}
	for _, candidate := range []goja.Value{obj.Get("default"), exports} {
		if isFunction(candidate) && candidate.ToObject(vm).Get("name").String() == className {
			return candidate
		}
	}
	return nil
}

func isFunction(v goja.Value) bool {
	if v == nil {
		return false
	}
	_, ok := goja.AssertFunction(v)
	return ok
}

// Close interrupts any running call and marks the unit unusable.
func (u *scriptUnit) Close() error {
	u.vm.Interrupt(ErrUnitClosed)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	return nil
}

type scriptInstance struct {
	unit *scriptUnit
	obj  *goja.Object
}

func (s scriptInstance) bind(vm *goja.Runtime, b *Base, clickAction func(string, providers.Invoker)) {
	provider := func(call goja.FunctionCall) (*goja.Object, string) {
		arg := call.Argument(0)
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			panic(vm.NewTypeError("provider object is required"))
		}
		obj := arg.ToObject(vm)
		name := stringProp(obj, "name")
		if name == "" {
			panic(vm.NewTypeError("provider name is required"))
		}
		return obj, name
	}

	s.obj.Set("registerMainAPI", func(call goja.FunctionCall) goja.Value {
		obj, name := provider(call)
		b.RegisterMainAPI(name, stringProp(obj, "mainUrl"), stringProp(obj, "lang"), &scriptInvoker{unit: s.unit, obj: obj})
		return goja.Undefined()
	})
	s.obj.Set("registerExtractor", func(call goja.FunctionCall) goja.Value {
		obj, name := provider(call)
		b.RegisterExtractor(name, stringProp(obj, "mainUrl"), &scriptInvoker{unit: s.unit, obj: obj})
		return goja.Undefined()
	})
	if clickAction != nil {
		s.obj.Set("registerClickAction", func(call goja.FunctionCall) goja.Value {
			obj, name := provider(call)
			clickAction(name, &scriptInvoker{unit: s.unit, obj: obj})
			return goja.Undefined()
		})
	}
}

func stringProp(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// runHook calls the named method. Missing optional hooks are skipped.
func (s scriptInstance) runHook(name string, required bool, args func(vm *goja.Runtime) []goja.Value) error {
	return s.unit.do(context.Background(), name, func(vm *goja.Runtime) error {
		fn, ok := goja.AssertFunction(s.obj.Get(name))
		if !ok {
			if required {
				return fmt.Errorf("%s is not a function", name)
			}
			return nil
		}
		var argv []goja.Value
		if args != nil {
			argv = args(vm)
		}
		_, err := settle(fn(s.obj, argv...))
		return err
	})
}

func (s scriptInstance) OpenSettings(ctx *Context) error {
	var found bool
	err := s.unit.do(context.Background(), "openSettings", func(*goja.Runtime) error {
		_, found = goja.AssertFunction(s.obj.Get("openSettings"))
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNoSettings
	}
	return s.runHook("openSettings", true, func(vm *goja.Runtime) []goja.Value {
		return []goja.Value{contextObject(vm, ctx)}
	})
}

type scriptBasePlugin struct {
	Base
	scriptInstance
}

func (p *scriptBasePlugin) Load() error {
	return p.runHook("load", true, nil)
}

func (p *scriptBasePlugin) BeforeUnload() error {
	return p.runHook("beforeUnload", false, nil)
}

type scriptPlugin struct {
	PluginBase
	scriptInstance
}

func (p *scriptPlugin) LoadContext(ctx *Context) error {
	return p.runHook("load", true, func(vm *goja.Runtime) []goja.Value {
		return []goja.Value{contextObject(vm, ctx)}
	})
}

func (p *scriptPlugin) BeforeUnload() error {
	return p.runHook("beforeUnload", false, nil)
}

// scriptInvoker calls functions of a provider object registered by a script.
type scriptInvoker struct {
	unit *scriptUnit
	obj  *goja.Object
}

func (i *scriptInvoker) Invoke(ctx context.Context, function string, args ...any) (any, error) {
	var result any
	err := i.unit.do(ctx, function, func(vm *goja.Runtime) error {
		fn, ok := goja.AssertFunction(i.obj.Get(function))
		if !ok {
			return fmt.Errorf("function %s not found", function)
		}
		argv := make([]goja.Value, len(args))
		for n, a := range args {
			argv[n] = vm.ToValue(a)
		}
		v, err := settle(fn(i.obj, argv...))
		if err != nil {
			return err
		}
		result = v.Export()
		return nil
	})
	if err != nil {
		var pe *PluginError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &PluginError{Plugin: i.unit.name, Op: function, Err: err}
	}
	return result, nil
}

func contextObject(vm *goja.Runtime, ctx *Context) *goja.Object {
	obj := vm.NewObject()
	obj.Set("pluginKey", ctx.PluginKey)
	obj.Set("filesDir", ctx.FilesDir)
	obj.Set("getPreferences", func(call goja.FunctionCall) goja.Value {
		return preferencesObject(vm, ctx.Preferences(call.Argument(0).String()))
	})
	return obj
}

func preferencesObject(vm *goja.Runtime, prefs *Preferences) *goja.Object {
	obj := vm.NewObject()
	obj.Set("get", func(call goja.FunctionCall) goja.Value {
		v, ok, err := prefs.Get(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		if !ok {
			return call.Argument(1)
		}
		return vm.ToValue(v)
	})
	obj.Set("set", func(call goja.FunctionCall) goja.Value {
		if err := prefs.Set(call.Argument(0).String(), call.Argument(1).Export()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	obj.Set("remove", func(call goja.FunctionCall) goja.Value {
		if err := prefs.Remove(call.Argument(0).String()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	obj.Set("all", func(call goja.FunctionCall) goja.Value {
		all, err := prefs.All()
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(all)
	})
	return obj
}
