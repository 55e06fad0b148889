package server

type Option func(s *Server)

func WithPort(port string) Option {
	return func(s *Server) {
		s.port = port
	}
}

// WithHub serves the websocket hub peers connect to on /peer. Only the authority runs one.
func WithHub(hub Hub) Option {
	return func(s *Server) {
		s.hub = hub
	}
}

func WithDisableDebug() Option {
	return func(s *Server) {
		s.disableDebug = true
	}
}
