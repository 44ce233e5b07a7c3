package popup

// Rect — прямоугольник рабочей области в экранных координатах.
type Rect struct {
	X, Y, W, H int
}

// Place вычисляет позицию попапа у указателя: ниже точки на offsetY,
// с переворотом вверх у нижней границы рабочей области и горизонтальным
// прижатием к её краям.
func Place(work Rect, pointerX, pointerY, w, h, offsetY int) (int, int) {
	x := pointerX
	y := pointerY + offsetY

	if y+h > work.Y+work.H {
		y = pointerY - offsetY - h
		if y < work.Y {
			y = work.Y
		}
	}

	if x+w > work.X+work.W {
		x = work.X + work.W - w
	}
	if x < work.X {
		x = work.X
	}
	return x, y
}
