// Package meshguard: клиент шлюза политик MeshGuard для AI-агентов.
//
// Базовый сценарий:
//
//	client, err := meshguard.New(meshguard.WithAgentToken(token))
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	d, err := client.Check(ctx, "read:contacts")
//	if err != nil {
//		return err // сеть, токен, 5xx
//	}
//	if !d.Allowed {
//		log.Printf("denied by %s: %s", d.Policy, d.Reason)
//	}
//
//	err = client.Govern(ctx, "write:email", func(ctx context.Context, d meshguard.PolicyDecision) error {
//		return sendEmail(ctx)
//	})
//
// Учетные данные берутся из опций, затем из окружения
// (MESHGUARD_AGENT_TOKEN / AGENT_TOKEN, MESHGUARD_ADMIN_TOKEN / ADMIN_TOKEN,
// MESHGUARD_GATEWAY_URL / GATEWAY_URL). Адаптер для инструментов eino: пакет tools.
package meshguard
