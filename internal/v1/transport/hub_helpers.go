package transport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/driftlab/roomcast/internal/v1/logging"
	"github.com/driftlab/roomcast/internal/v1/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// generateClientId mints an identity for connections that arrive without a
// clientId query parameter: client-<epochMillis>-<9 random base36 chars>.
func generateClientId() types.ClientIdType {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = base36Alphabet[rand.IntN(len(base36Alphabet))]
	}
	return types.ClientIdType(fmt.Sprintf("client-%d-%s", time.Now().UnixMilli(), suffix))
}

// randomColor assigns a uniformly-random RGB color, rendered "#rrggbb".
func randomColor() string {
	c := colorful.Color{R: rand.Float64(), G: rand.Float64(), B: rand.Float64()}
	return c.Hex()
}

// validateOrigin checks the request origin against the allowed list. Requests
// without an Origin header (non-browser clients) are allowed, as is everything
// when the list is empty or contains "*".
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.GetLogger().Debug("No origin header - allowing non-browser client")
		return nil
	}

	if len(allowedOrigins) == 0 {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(context.Background(), "Invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		if strings.TrimSpace(allowed) == "*" {
			return nil
		}
		allowedURL, err := url.Parse(strings.TrimSpace(allowed))
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(context.Background(), "Origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

// upgradeWebSocket performs the HTTP -> WebSocket upgrade.
func (h *Hub) upgradeWebSocket(c *gin.Context) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if h.devMode {
				return true
			}
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return conn, nil
}
