// Package service - прикладной слой поверх движка исполнения.
//
// ВАЖНО: риск-менеджмент, маршрутизация и учёт P&L реализованы в пакете engine,
// а не здесь. Сервисы только связывают движок с внешним миром:
//
// - SignalService: дедупликация входящих сигналов, Dispatch, публикация результата
// - NotificationService: очередь уведомлений движка → журнал (БД или память) → WebSocket
//
// Архитектурное решение:
// Engine вызывает sink событий синхронно из горячего пути диспетчеризации,
// поэтому всё, что ходит в БД или сеть, вынесено в фоновые воркеры сервисов.
//
// Использование:
//
//	notifService := service.NewNotificationService(notifRepo, service.DefaultNotificationOptions(), log)
//	notifService.SetWebSocketHub(wsHub)
//	go notifService.Run(ctx)
//	eng := engine.New(cfg, catalog, registry, store, log, engine.NotificationSink(notifService))
//
// См. также:
// - internal/engine/router.go: Router для параллельной отправки ордеров
// - internal/engine/risk.go: RiskGuard для лимитов позиций и дневного убытка
package service
