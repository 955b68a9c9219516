package gee

import (
	"slices"
	"sort"
	"strings"
)

type HandlerFunc func(*Context)

// RouteInfo 一条已注册的路由
type RouteInfo struct {
	Method  string
	Pattern string
}

// roots 按 method 分树；handlers 的 key 为 method + "-" + pattern
type router struct {
	roots    map[string]*node
	handlers map[string][]HandlerFunc
	routes   []RouteInfo
}

func newRouter() *router {
	return &router{
		handlers: make(map[string][]HandlerFunc),
		roots:    make(map[string]*node),
	}
}

func parsePattern(pattern string) []string {
	vs := strings.Split(pattern, "/")

	parts := make([]string, 0, len(vs))
	for _, item := range vs {
		if item != "" {
			parts = append(parts, item)
			if item[0] == '*' {
				break
			}
		}
	}
	return parts
}

func (r *router) addRoute(method string, pattern string, handlers ...HandlerFunc) {
	if len(handlers) == 0 {
		panic("gee: addRoute requires at least one handler")
	}
	key := method + "-" + pattern
	if _, dup := r.handlers[key]; dup {
		panic("gee: duplicate route " + method + " " + pattern)
	}
	root, ok := r.roots[method]
	if !ok {
		root = &node{}
		r.roots[method] = root
	}
	root.insert(pattern, parsePattern(pattern), 0)
	r.handlers[key] = append([]HandlerFunc(nil), handlers...)
	r.routes = append(r.routes, RouteInfo{Method: method, Pattern: pattern})
}

func (r *router) getRoute(method string, path string) (*node, map[string]string) {
	root, ok := r.roots[method]
	if !ok {
		return nil, nil
	}
	searchParts := parsePattern(path)
	n := root.search(searchParts, 0)
	if n == nil {
		return nil, nil
	}

	params := make(map[string]string)
	for index, part := range parsePattern(n.pattern) {
		if part[0] == ':' {
			params[part[1:]] = searchParts[index]
		}
		if part[0] == '*' && len(part) > 1 {
			params[part[1:]] = strings.Join(searchParts[index:], "/")
			break
		}
	}
	return n, params
}

// match 找到 method 对应的路由；没有单独注册 HEAD 时退回到 GET 的 handler。
// 返回值 method 是实际命中的那棵树。
func (r *router) match(method, path string) (string, *node, map[string]string) {
	if n, params := r.getRoute(method, path); n != nil {
		return method, n, params
	}
	if method == "HEAD" {
		if n, params := r.getRoute("GET", path); n != nil {
			return "GET", n, params
		}
	}
	return method, nil, nil
}

func (r *router) handle(c *Context) {
	method, n, params := r.match(c.Method, c.Path)
	if n != nil {
		c.Params = params
		c.RoutePattern = n.pattern
		c.handlers = append(c.handlers, r.handlers[method+"-"+n.pattern]...)
	} else {
		allow := r.AllowedMethod(c.Path)
		if len(allow) == 0 {
			c.handlers = append(c.handlers, c.engine.noRoute...)
		} else {
			c.SetHeader("Allow", strings.Join(allow, ","))
			c.handlers = append(c.handlers, c.engine.noMethod...)
		}
	}
	c.Next()
}

func (r *router) AllowedMethod(path string) (allow []string) {
	for method := range r.roots {
		if n, _ := r.getRoute(method, path); n != nil {
			allow = append(allow, method)
		}
	}
	if slices.Contains(allow, "GET") && !slices.Contains(allow, "HEAD") {
		allow = append(allow, "HEAD")
	}
	sort.Strings(allow)
	return allow
}
