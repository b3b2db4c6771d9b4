// Package cache provee un cache byte-oriented con backends memory y redis.
//
// El cache es SOLO una capa caliente delante del store persistente: el replay
// guard y el token store tienen a Postgres como fuente de verdad. El backend
// memory existe para desarrollo single-instance y no es autoritativo en un
// deployment multi-instancia.
package cache

import "time"

type Cache interface {
	Get(k string) ([]byte, bool)
	Set(k string, v []byte, ttl time.Duration)
	Delete(k string)
}
