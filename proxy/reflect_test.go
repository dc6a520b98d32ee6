package proxy

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mesh-rpc/endpoint"
)

type HelloArgs struct {
	Name string
}

type HelloReply struct {
	Greeting string
}

type Greeter struct{}

func (g *Greeter) SayHello(args *HelloArgs, reply *HelloReply) error {
	if args.Name == "" {
		return errors.New("empty name")
	}
	reply.Greeting = "hello " + args.Name
	return nil
}

func (g *Greeter) SayHi(args *HelloArgs, reply *HelloReply) error {
	reply.Greeting = "hi " + args.Name
	return nil
}

// wrong shape, must be skipped by the scanner
func (g *Greeter) String() string { return "Greeter" }

type GreeterIface interface {
	SayHello(args *HelloArgs, reply *HelloReply) error
	SayHi(args *HelloArgs, reply *HelloReply) error
}

func TestScanMethods(t *testing.T) {
	methods, err := ScanMethods(&Greeter{})
	require.NoError(t, err)

	assert.Len(t, methods, 2)
	assert.Contains(t, methods, "SayHello")
	assert.Contains(t, methods, "SayHi")
	assert.NotContains(t, methods, "String")
}

func TestScanMethodsRejectsNonStructPointer(t *testing.T) {
	_, err := ScanMethods(nil)
	assert.Error(t, err)
	_, err = ScanMethods(Greeter{})
	assert.Error(t, err)
	_, err = ScanMethods(42)
	assert.Error(t, err)
}

func TestMethodNamesSorted(t *testing.T) {
	names, err := MethodNames(&Greeter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"SayHello", "SayHi"}, names)
}

func TestReflectInvoker(t *testing.T) {
	d := endpoint.New("dubbo", "127.0.0.1", 20880, "demo.Greeter")
	inv, err := NewReflectFactory().GetInvoker(&Greeter{}, "demo.Greeter", d)
	require.NoError(t, err)

	assert.Equal(t, "demo.Greeter", inv.Interface())
	assert.True(t, d.Equal(inv.URL()))

	reply := &HelloReply{}
	require.NoError(t, inv.Invoke(context.Background(), "SayHello", &HelloArgs{Name: "liam"}, reply))
	assert.Equal(t, "hello liam", reply.Greeting)

	err = inv.Invoke(context.Background(), "SayHello", &HelloArgs{}, &HelloReply{})
	assert.EqualError(t, err, "empty name")

	err = inv.Invoke(context.Background(), "NoSuch", &HelloArgs{}, &HelloReply{})
	assert.Error(t, err)
}

func TestImplements(t *testing.T) {
	iface := reflect.TypeOf((*GreeterIface)(nil)).Elem()
	assert.True(t, Implements(&Greeter{}, iface))
	assert.False(t, Implements(&struct{}{}, iface))
	assert.False(t, Implements(nil, iface))
	assert.False(t, Implements(&Greeter{}, reflect.TypeOf(42)))
}

func TestHasMethods(t *testing.T) {
	missing, ok := HasMethods(&Greeter{}, []string{"SayHello", "SayHi"})
	assert.True(t, ok)
	assert.Empty(t, missing)

	missing, ok = HasMethods(&Greeter{}, []string{"SayHello", "Shout"})
	assert.False(t, ok)
	assert.Equal(t, "Shout", missing)
}
