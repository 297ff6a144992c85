// Сервер голосового моста: принимает WebSocket медиа стримы от
// платформы диалогового AI и мостит их с RTP потоками телефонных
// шлюзов. На каждый стрим создается сессия звонка со своим jitter
// buffer, кодек пайплайнами и аудио мостом.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/call"
	"github.com/arzzra/voice_bridge/pkg/config"
	"github.com/arzzra/voice_bridge/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("загрузка конфигурации")
	}
	setupLogging(cfg.Log)

	srv := &server{
		config:   cfg,
		registry: call.NewRegistry(),
		log:      logrus.WithField("component", "server"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.run(ctx); err != nil {
		logrus.WithError(err).Fatal("сервер завершился с ошибкой")
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.SetOutput(os.Stdout)
}

type server struct {
	config   *config.Config
	registry *call.Registry
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

func (s *server) run(ctx context.Context) error {
	metricsServer := &http.Server{
		Addr:    s.config.Metrics.ListenAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		s.log.WithField("addr", metricsServer.Addr).Info("метрики доступны")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("сервер метрик")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Stream.Path, s.handleStream)
	streamServer := &http.Server{
		Addr:    s.config.Stream.ListenAddr,
		Handler: mux,
	}
	go func() {
		s.log.WithFields(logrus.Fields{
			"addr": streamServer.Addr,
			"path": s.config.Stream.Path,
		}).Info("прием медиа стримов запущен")
		if err := streamServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("сервер стримов")
		}
	}()

	<-ctx.Done()
	s.log.Info("остановка сервера")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = streamServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	s.registry.Clear()
	return nil
}

// handleStream принимает WebSocket соединение одного звонка.
// start сообщение стрима создает сессию и телефонную ногу,
// stop завершает обе.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("upgrade стрима не удался")
		return
	}

	h := &streamCall{server: s, adapterCh: make(chan *transport.StreamAdapter, 1)}
	adapter := transport.NewStreamAdapter(conn, transport.DefaultStreamAdapterConfig(), h)
	h.adapterCh <- adapter
}

// streamCall связывает управляющие сообщения одного стрима с сессией
type streamCall struct {
	server    *server
	adapterCh chan *transport.StreamAdapter

	mutex   sync.Mutex
	adapter *transport.StreamAdapter
	session *call.Session
}

// OnStreamStart создает телефонную ногу и сессию звонка.
// Вызывается из цикла чтения стрима, до любых media сообщений.
func (h *streamCall) OnStreamStart(msg *transport.StartMessage) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.adapter == nil {
		h.adapter = <-h.adapterCh
	}
	if h.session != nil {
		return
	}

	cfg := h.server.config
	log := h.server.log.WithField("call_id", msg.CallID)

	telAdapter, err := h.newTelephonyAdapter()
	if err != nil {
		log.WithError(err).Error("создание телефонной ноги")
		_ = h.adapter.Close()
		return
	}

	telPT, _ := config.ParsePayloadType(cfg.Telephony.Codec)
	streamPT, err := transport.PayloadTypeForEncoding(msg.MediaFormat.Encoding)
	if err != nil {
		streamPT, _ = config.ParsePayloadType(cfg.Stream.Codec)
	}

	session, err := call.NewSession(call.SessionConfig{
		CallID:               msg.CallID,
		TelephonyAdapter:     telAdapter,
		AIAdapter:            h.adapter,
		TelephonyPayloadType: telPT,
		AIPayloadType:        streamPT,
		CanonicalRate:        cfg.Media.CanonicalRate,
		Bridge:               cfg.BridgeConfig(),
		OnTerminated: func(sess *call.Session) {
			h.server.registry.Remove(sess.CallID())
		},
	})
	if err != nil {
		log.WithError(err).Error("создание сессии")
		_ = telAdapter.Close()
		_ = h.adapter.Close()
		return
	}
	if err := h.server.registry.Add(session); err != nil {
		log.WithError(err).Error("регистрация сессии")
		session.Fail(err)
		return
	}
	h.session = session

	// Начавшийся стрим означает отвеченный звонок с готовыми
	// медиа путями с обеих сторон
	_ = session.OnRing()
	_ = session.OnAnswer()
	_ = session.BridgeReady()

	log.WithField("telephony_addr", telAdapter.LocalAddr().String()).Info("звонок замощен")
}

// newTelephonyAdapter создает пакетный адаптер телефонной ноги:
// DTLS при включенном шифровании, иначе обычный UDP
func (h *streamCall) newTelephonyAdapter() (transport.Adapter, error) {
	cfg := h.server.config

	if cfg.Telephony.DTLS {
		cert, err := tls.LoadX509KeyPair(cfg.Telephony.CertFile, cfg.Telephony.KeyFile)
		if err != nil {
			return nil, err
		}
		dtlsConfig := transport.DefaultDTLSConfig()
		dtlsConfig.LocalAddr = cfg.Telephony.ListenAddr
		dtlsConfig.Certificates = []tls.Certificate{cert}
		dtlsConfig.Server = true
		return transport.NewDTLSAdapter(dtlsConfig)
	}

	udpConfig := transport.DefaultConfig()
	udpConfig.LocalAddr = cfg.Telephony.ListenAddr
	return transport.NewUDPAdapter(udpConfig)
}

// OnStreamStop завершает сессию штатно
func (h *streamCall) OnStreamStop(msg *transport.StopMessage) {
	h.mutex.Lock()
	session := h.session
	h.mutex.Unlock()

	if session != nil {
		_ = session.OnHangup(call.CauseNormalClearance)
	}
}

// OnStreamMark метки воспроизведения сейчас только логируются
func (h *streamCall) OnStreamMark(name string) {
	h.server.log.WithField("mark", name).Debug("метка стрима")
}

// OnStreamDTMF пересылает цифру в сессию
func (h *streamCall) OnStreamDTMF(digit string) {
	h.mutex.Lock()
	session := h.session
	h.mutex.Unlock()

	if session != nil {
		session.OnDTMF(digit)
	}
}
