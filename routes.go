package postbus

import "sync"

type Route struct {
	Path string `json:"path" toml:"path"`
}

// Routes maps route names to paths of the embedded application. It also
// remembers where the container page and the embedded application live.
type Routes struct {
	mu        sync.RWMutex
	routes    map[string]Route
	container string
	microApp  string
}

func NewRoutes() *Routes {
	return &Routes{routes: make(map[string]Route)}
}

// Register merges routes into the table; existing names are overwritten.
func (r *Routes) Register(routes map[string]Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, route := range routes {
		r.routes[name] = route
	}
}

func (r *Routes) Get(name string) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[name]
	return route, ok
}

func (r *Routes) SetContainerPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.container = path
}

// ContainerPath is the path of the page hosting the frame.
func (r *Routes) ContainerPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.container
}

func (r *Routes) SetMicroAppPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.microApp = path
}

// MicroAppPath is the path currently shown by the embedded application.
func (r *Routes) MicroAppPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.microApp
}
