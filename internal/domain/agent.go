package domain

// TrustTier описывает классификацию агента на стороне шлюза. Для SDK значение непрозрачно:
// неизвестные уровни сохраняются как есть.
type TrustTier string

const (
	TierUnverified TrustTier = "unverified"
	TierVerified   TrustTier = "verified" // Дефолт при создании агента
	TierTrusted    TrustTier = "trusted"
	TierPrivileged TrustTier = "privileged"
)

// Agent read-only снимок агента, как его видит шлюз.
// Токен сюда не попадает никогда: он возвращается один раз при создании (см. CreatedAgent).
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`      // Человекочитаемое имя (например, "jira-helper-bot")
	TrustTier TrustTier `json:"trustTier"` // Влияет на оценку политик на сервере
	Tags      []string  `json:"tags"`
	OrgID     string    `json:"orgId,omitempty"`
}

// CreatedAgent приходит в ответ на создание агента. Token выдается ровно один раз,
// повторно получить его нельзя: вызывающий код обязан сохранить его сразу.
type CreatedAgent struct {
	Agent
	Token string `json:"token"`
}

// AgentSpec задает параметры создания агента.
type AgentSpec struct {
	Name      string    `json:"name"`
	TrustTier TrustTier `json:"trustTier"`
	Tags      []string  `json:"tags"`
}
