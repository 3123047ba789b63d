package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"swarmrover/mobility"
)

const adminTimeout = 2 * time.Second

// Admin 节点的管理与监控接口
type Admin struct {
	Node *mobility.Node
	Hub  *Hub
}

// Routes 注册 /admin/config、/metrics、/status、/healthz
func (a *Admin) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/config", a.HandleAdminConfig)
	mux.HandleFunc("/metrics", a.HandleMetrics)
	mux.HandleFunc("/status", a.HandleStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

// HandleAdminConfig 提供可调参数的读取与更新（热更新）
// GET /admin/config  返回当前参数
// POST /admin/config 以 JSON 载荷更新部分字段
func (a *Admin) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		st, err := a.Node.Snapshot(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, st.Tunables)
	case http.MethodPost:
		var body mobility.TunablesPatch
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		t, err := a.Node.UpdateTunables(ctx, body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		Log.Infof("config updated: linearSpeed=%.3f gain=%.3f radius=%.3f", t.LinearSpeed, t.Gain, t.NeighborRadius)
		writeJSON(w, map[string]any{"ok": true, "tunables": t})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出节点运行指标
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"agent":   a.Node.Name(),
		"clients": a.Hub.ClientCount(),
		"metrics": a.Node.Metrics().Snapshot(),
	})
}

// HandleStatus 输出状态机与共识的当前值
func (a *Admin) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), adminTimeout)
	defer cancel()
	st, err := a.Node.Snapshot(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, st)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
