package shell

import (
	"fmt"

	"fabrik/internal/config"
)

// Kinds lists the transports a host can select with `shellProvider`.
var Kinds = []Kind{KindLocal, KindSSH, KindKubectl}

// ParseKind validates a `shellProvider` value.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown shell provider %q", s)
}

// KindForHost returns the explicit `shellProvider` of host, or derives it
// from `needs`: ssh wins over kubectl, everything else runs locally.
func KindForHost(host *config.Node) (Kind, error) {
	if s := host.String("shellProvider", ""); s != "" {
		return ParseKind(s)
	}
	needs := host.Strings("needs")
	for _, want := range []Kind{KindSSH, KindKubectl} {
		for _, n := range needs {
			if n == string(want) {
				return want, nil
			}
		}
	}
	return KindLocal, nil
}

// New creates the provider for kind.
func New(kind Kind, host *config.Node, opts Options) (Provider, error) {
	switch kind {
	case KindLocal:
		return NewLocalProvider(host, opts), nil
	case KindSSH:
		return NewSSHProvider(host, opts), nil
	case KindKubectl:
		return NewKubectlProvider(host, opts), nil
	}
	return nil, fmt.Errorf("unknown shell provider %q", kind)
}

// DefaultConfig returns the defaults kind contributes to host. settings are
// the fabfile level settings, ports the session port cache.
func DefaultConfig(kind Kind, settings, host *config.Node, ports *PortCache) *config.Node {
	result := config.NewNode()
	result.Set("shellExecutable", settings.String("shellExecutable", "/bin/bash"))
	result.Set("shellProviderExecutable", settings.String("shellProviderExecutable", "/bin/bash"))

	switch kind {
	case KindSSH:
		result.Set("shellProviderExecutable", sshExecutable)
		result.Set("disableKnownHosts", settings.Bool("disableKnownHosts", false))
		result.Set("port", 22)
		if host.Child("sshTunnel") == nil {
			break
		}
		configName := host.String("configName", "")
		if port := host.Int("port", 0); port != 0 {
			result.SetPath("sshTunnel.localPort", port)
			if ports != nil && configName != "" {
				ports.Pin(configName, port)
			}
		} else if configName != "" && ports != nil {
			port := ports.Port(configName)
			result.Set("port", port)
			result.SetPath("sshTunnel.localPort", port)
		}
		if name := host.String("docker.name", ""); name != "" {
			result.SetPath("sshTunnel.destHostFromDockerContainer", name)
		}

	case KindKubectl:
		result.Set("kubectlExecutable", "kubectl")
		result.Set("kubectlOptions", config.NewNode())
		result.Set("shellExecutable", "/bin/sh")
		result.SetPath("kube.namespace", "default")
	}
	return result
}

// ValidateConfig reports the problems of a merged host config for kind.
func ValidateConfig(kind Kind, host *config.Node, errs *config.ValidationErrors) {
	v := config.NewValidator(host, errs, "host-config")
	v.HasKey("shellExecutable", "Missing shellExecutable, should point to the executable to run an interactive shell")

	switch kind {
	case KindSSH:
		configName := host.String("configName", "")
		sv := config.NewValidator(host, errs, fmt.Sprintf("host-config: `%s`", configName))
		sv.HasKeys(map[string]string{
			"host": "Hostname to connect to",
			"port": "The port to connect to",
			"user": "Username to use for this connection",
		})
		if tunnel := host.Child("sshTunnel"); tunnel.Len() > 0 {
			tv := config.NewValidator(tunnel, errs, fmt.Sprintf("sshTunnel-config: `%s`", configName))
			tv.HasKeys(map[string]string{
				"bridgeHost": "The hostname of the bridge-host",
				"bridgeUser": "The username to use to connect to the bridge-host",
				"bridgePort": "The port to use to connect to the bridge-host",
				"destPort":   "The port of the destination host",
				"localPort":  "The local port to forward to the destination-host",
			})
			if tunnel.String("destHostFromDockerContainer", "") == "" {
				tv.HasKey("destHost", "The hostname of the destination host")
			}
		}
		if host.Has("strictHostKeyChecking") {
			errs.AddWarning("strictHostKeyChecking", "Please use `disableKnownHosts` instead.")
		}

	case KindKubectl:
		v.HasKeys(map[string]string{"kube": "The kubernetes config to use"})
		v.IsArray("kubectlOptions", "A set of key value pairs to pass as options to kubectl")
		if errs.HasErrors() {
			return
		}
		kv := config.NewValidator(host.Child("kube"), errs, "host:kube")
		if host.Child("kube").Has("podSelector") {
			kv.IsArray("podSelector", "A set of selectors to get the pod you want to connect to.")
		}
		kv.HasKey("namespace", "The namespace the pod is located in.")
	}
}
