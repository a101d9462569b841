package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func comp(kind ComponentKind, name string, enabled bool) Component {
	return Component{Info: ComponentInfo{Kind: kind, Name: name, Plugin: "p", Enabled: enabled}}
}

func TestRegistryDuplicateKindName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(comp(KindAction, "wave", true)))
	assert.ErrorIs(t, r.Register(comp(KindAction, "wave", true)), ErrDuplicateComponent)

	// Same name under a different kind is fine.
	assert.NoError(t, r.Register(comp(KindCommand, "wave", true)))
	assert.Equal(t, 2, r.Len())
}

func TestRegistryStreamOverrides(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(comp(KindAction, "wave", true)))

	assert.True(t, r.Enabled(KindAction, "wave", "qq:group:7"))
	require.NoError(t, r.SetStreamEnabled(KindAction, "wave", "qq:group:7", false))
	assert.False(t, r.Enabled(KindAction, "wave", "qq:group:7"))

	// Other streams keep the global flag.
	assert.True(t, r.Enabled(KindAction, "wave", "qq:group:8"))

	r.ClearStreamState("qq:group:7")
	assert.True(t, r.Enabled(KindAction, "wave", "qq:group:7"))
}

func TestRegistryGlobalDisableWinsUnlessOverridden(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(comp(KindAction, "wave", false)))

	assert.False(t, r.Enabled(KindAction, "wave", "qq:group:7"))
	require.NoError(t, r.SetStreamEnabled(KindAction, "wave", "qq:group:7", true))
	assert.True(t, r.Enabled(KindAction, "wave", "qq:group:7"))

	enabled := r.EnabledByKind(KindAction, "qq:group:7")
	require.Len(t, enabled, 1)
	assert.Empty(t, r.EnabledByKind(KindAction, "qq:group:8"))
}

func TestRegistryUnregisterPlugin(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(comp(KindAction, "wave", true)))
	require.NoError(t, r.Register(comp(KindTool, "lookup", true)))

	assert.Equal(t, 2, r.UnregisterPlugin("p"))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.UnregisterPlugin("p"))
}

func TestRegistrySetEnabledUnknown(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.SetEnabled(KindAction, "ghost", true), ErrComponentNotFound)
	assert.ErrorIs(t, r.SetStreamEnabled(KindAction, "ghost", "s", true), ErrComponentNotFound)
}
