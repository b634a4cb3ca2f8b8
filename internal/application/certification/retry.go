package certification

import "time"

// BackoffDelay calcula la espera exponencial previa al reintento número
// retryCount: base × 2^retryCount, con tope en max.
func BackoffDelay(base, max time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// AfterFuncScheduler agenda reintentos con temporizadores del proceso.
// Las intenciones encoladas no sobreviven a un reinicio; el barrido
// periódico recupera los documentos que queden varados.
type AfterFuncScheduler struct{}

func (AfterFuncScheduler) Schedule(delay time.Duration, fn func()) {
	time.AfterFunc(delay, fn)
}
