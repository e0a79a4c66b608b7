package util

import (
	"math"
	"reflect"
)

// Round2 四舍五入到两位小数，NaN 与 ±Inf 输出 0
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0
	}
	return r
}

// RoundFloats 将 v 中所有浮点叶子就地保留两位小数。
// v 须为指针、map 或 slice，按值传入的结构体无法修改。
func RoundFloats(v any) {
	if v == nil {
		return
	}
	roundValue(reflect.ValueOf(v))
}

func roundValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		if v.CanSet() {
			v.SetFloat(Round2(v.Float()))
		}
	case reflect.Ptr:
		if !v.IsNil() {
			roundValue(v.Elem())
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).IsExported() {
				roundValue(v.Field(i))
			}
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return
		}
		for i := 0; i < v.Len(); i++ {
			roundValue(v.Index(i))
		}
	case reflect.Array:
		if v.CanSet() {
			for i := 0; i < v.Len(); i++ {
				roundValue(v.Index(i))
			}
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			elem := v.MapIndex(key)
			cp := reflect.New(elem.Type()).Elem()
			cp.Set(elem)
			roundValue(cp)
			v.SetMapIndex(key, cp)
		}
	case reflect.Interface:
		if v.IsNil() {
			return
		}
		inner := v.Elem()
		cp := reflect.New(inner.Type()).Elem()
		cp.Set(inner)
		roundValue(cp)
		if v.CanSet() {
			v.Set(cp)
		}
	}
}
