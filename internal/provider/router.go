package provider

import "github.com/rentfolio/go-push-service/pkg/push"

// defaultRoutes is the closed platform-to-provider mapping. Unknown
// platforms fall through to the no-op provider.
var defaultRoutes = map[push.Platform]push.ProviderID{
	push.PlatformIOS:     push.ProviderAPNS,
	push.PlatformAndroid: push.ProviderFCM,
	push.PlatformWeb:     push.ProviderWebPush,
}

// Router resolves a device's platform to a provider identifier. Operators
// may override individual routes (e.g. sending ios through FCM during a
// gateway migration) without any other component changing.
type Router struct {
	routes map[push.Platform]push.ProviderID
}

// NewRouter applies the given overrides on top of the default routes.
func NewRouter(overrides map[push.Platform]push.ProviderID) *Router {
	routes := make(map[push.Platform]push.ProviderID, len(defaultRoutes))
	for p, id := range defaultRoutes {
		routes[p] = id
	}
	for p, id := range overrides {
		routes[p] = id
	}
	return &Router{routes: routes}
}

// Route returns the provider serving the platform.
func (r *Router) Route(p push.Platform) push.ProviderID {
	if id, ok := r.routes[p]; ok {
		return id
	}
	return push.ProviderNoop
}
